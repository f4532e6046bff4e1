// Package transform holds pure mapping functions that adapt a context
// payload produced for one service type into the shape expected by another.
package transform

import (
	"sync"
	"time"

	"github.com/sonatahq/sonata/internal/logging"
)

// Wildcard matches any source or target type during lookup.
const Wildcard = "*"

// Func adapts a context payload between service types. Implementations
// must not mutate the input map.
type Func func(payload map[string]any) map[string]any

type pair struct {
	source string
	target string
}

// Registry maps (source, target) type pairs to transform functions.
// Lookup precedence: exact pair, then (wildcard source, target), then
// (source, wildcard target). With no match the payload passes through
// unchanged and a warning is logged.
type Registry struct {
	mu         sync.RWMutex
	transforms map[pair]Func
	logger     logging.Logger
}

// NewRegistry creates an empty transform registry. A nil logger disables
// the pass-through warning.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Registry{
		transforms: make(map[pair]Func),
		logger:     logger,
	}
}

// Register installs a transform for the (source, target) pair, replacing
// any previous registration. Either side may be Wildcard.
func (r *Registry) Register(sourceType, targetType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[pair{sourceType, targetType}] = fn
}

// Transform adapts the payload from the source type to the target type.
func (r *Registry) Transform(sourceType, targetType string, payload map[string]any) map[string]any {
	r.mu.RLock()
	fn, ok := r.lookupLocked(sourceType, targetType)
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("no transform registered, passing payload through",
			"source", sourceType, "target", targetType)
		return payload
	}
	return fn(payload)
}

// lookupLocked applies the precedence order; caller holds the read lock.
func (r *Registry) lookupLocked(sourceType, targetType string) (Func, bool) {
	if fn, ok := r.transforms[pair{sourceType, targetType}]; ok {
		return fn, true
	}
	if fn, ok := r.transforms[pair{Wildcard, targetType}]; ok {
		return fn, true
	}
	if fn, ok := r.transforms[pair{sourceType, Wildcard}]; ok {
		return fn, true
	}
	return nil, false
}

// Provenance is the record stamped onto transformed payloads describing
// where the transformation came from.
type Provenance struct {
	SourceType    string    `json:"source_type"`
	TargetType    string    `json:"target_type"`
	TransformedAt time.Time `json:"transformed_at"`
}

// Builder assembles a generic transform from small composable rules.
type Builder struct {
	sourceType string
	targetType string
	dropKeys   map[string]bool
	keepKeys   map[string]bool
	valueMaps  map[string]func(any) any
	stamp      bool
}

// NewBuilder starts a builder for the (source, target) pair.
func NewBuilder(sourceType, targetType string) *Builder {
	return &Builder{
		sourceType: sourceType,
		targetType: targetType,
		dropKeys:   make(map[string]bool),
		keepKeys:   make(map[string]bool),
		valueMaps:  make(map[string]func(any) any),
	}
}

// Drop removes the named keys from the output.
func (b *Builder) Drop(keys ...string) *Builder {
	for _, k := range keys {
		b.dropKeys[k] = true
	}
	return b
}

// Keep restricts the output to the named keys. Drop still applies within
// the kept set.
func (b *Builder) Keep(keys ...string) *Builder {
	for _, k := range keys {
		b.keepKeys[k] = true
	}
	return b
}

// MapValue rewrites the value under the key with fn.
func (b *Builder) MapValue(key string, fn func(any) any) *Builder {
	b.valueMaps[key] = fn
	return b
}

// WithProvenance stamps a provenance record onto the output under the
// "_provenance" key.
func (b *Builder) WithProvenance() *Builder {
	b.stamp = true
	return b
}

// Build produces the transform function. The input payload is never
// mutated; the output is a fresh map.
func (b *Builder) Build() Func {
	return func(payload map[string]any) map[string]any {
		out := make(map[string]any, len(payload))
		for k, v := range payload {
			if len(b.keepKeys) > 0 && !b.keepKeys[k] {
				continue
			}
			if b.dropKeys[k] {
				continue
			}
			if fn, ok := b.valueMaps[k]; ok {
				v = fn(v)
			}
			out[k] = v
		}
		if b.stamp {
			out["_provenance"] = Provenance{
				SourceType:    b.sourceType,
				TargetType:    b.targetType,
				TransformedAt: time.Now(),
			}
		}
		return out
	}
}
