// Package contextcache provides a size- and age-bounded cache of
// per-service context views and cross-service context transformations.
package contextcache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// KeyKind distinguishes the two cacheable shapes.
type KeyKind string

const (
	// KindService keys a per-service context view derived from a filter.
	KindService KeyKind = "service"
	// KindTransform keys a cross-service context transformation, including
	// a content hash of the transformed payload.
	KindTransform KeyKind = "transform"
)

// Key is a structured cache key. Keys are canonical: equal inputs always
// produce equal keys, so the string form is safe to use as a map key.
type Key struct {
	Kind KeyKind
	// Service is the owning service for KindService keys.
	Service string
	// Filter is the view filter for KindService keys.
	Filter string
	// Source and Target are the endpoint types for KindTransform keys.
	Source string
	Target string
	// ContentHash is the 64-bit hash of the source payload for
	// KindTransform keys.
	ContentHash uint64
}

// ServiceKey builds the key for a per-service context view.
func ServiceKey(serviceID, filter string) Key {
	return Key{Kind: KindService, Service: serviceID, Filter: filter}
}

// TransformKey builds the key for a cross-service transformation of the
// given payload.
func TransformKey(source, target string, payload map[string]any) Key {
	return Key{
		Kind:        KindTransform,
		Source:      source,
		Target:      target,
		ContentHash: HashPayload(payload),
	}
}

// HashPayload computes a stable 64-bit FNV-1a hash over the canonical JSON
// encoding of the payload. encoding/json sorts map keys, so equal payloads
// hash equally regardless of insertion order.
func HashPayload(payload map[string]any) uint64 {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Unencodable payloads hash by their formatted representation.
		raw = []byte(fmt.Sprintf("%#v", payload))
	}
	h := fnv.New64a()
	h.Write(raw)
	return h.Sum64()
}

// String returns the canonical string form of the key.
func (k Key) String() string {
	switch k.Kind {
	case KindTransform:
		return fmt.Sprintf("transform/%s/%s#%016x", k.Source, k.Target, k.ContentHash)
	default:
		return fmt.Sprintf("service/%s/%s", k.Service, k.Filter)
	}
}

// MatchesTag reports whether the key encodes the given content or service
// tag. Used by invalidation.
func (k Key) MatchesTag(tag string) bool {
	switch k.Kind {
	case KindService:
		return k.Service == tag || k.Filter == tag
	case KindTransform:
		return k.Source == tag || k.Target == tag
	default:
		return false
	}
}
