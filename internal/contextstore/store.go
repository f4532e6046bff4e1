// Package contextstore manages per-entity conversational state under an
// explicit token budget, with truncation and compression under pressure and
// overflow to a disk-backed blob store.
package contextstore

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sonatahq/sonata/internal/events"
	"github.com/sonatahq/sonata/internal/logging"
	"github.com/sonatahq/sonata/internal/state"
	"github.com/sonatahq/sonata/pkg/models"
)

// diskKeyPrefix namespaces context blobs inside the shared blob store.
const diskKeyPrefix = "context:"

// Metadata tracks the lifecycle timestamps of a conversation context.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	LastAccess  time.Time `json:"last_access"`
}

// ConversationContext is one entity's bounded conversational state. The
// token count never exceeds the entity's context window after any
// successful mutation.
type ConversationContext struct {
	// EntityID is the owning entity.
	EntityID string `json:"entity_id"`
	// Messages is the ordered message history, oldest first.
	Messages []models.Message `json:"messages"`
	// TokenCount is the current total token cost of Messages.
	TokenCount int `json:"token_count"`
	// Constraints bounds this context.
	Constraints models.ModelConstraints `json:"constraints"`
	// Metadata tracks lifecycle timestamps.
	Metadata Metadata `json:"metadata"`
}

// clone returns a deep copy safe for external use.
func (c *ConversationContext) clone() *ConversationContext {
	cp := *c
	cp.Messages = make([]models.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

// Config tunes store behavior.
type Config struct {
	// OptimizeThreshold is the fraction of the window at which the
	// compression pass runs (0 disables it).
	OptimizeThreshold float64
	// OverflowIdle is how long a context may sit unused before the
	// background loop spills it to disk (0 disables spilling).
	OverflowIdle time.Duration
}

// Store owns all live conversation contexts. Each entity id maps to at
// most one live context, held either in memory or on disk, never both.
type Store struct {
	mu       sync.Mutex
	contexts map[string]*ConversationContext
	onDisk   map[string]bool

	blobs   state.BlobStore
	emitter *events.Emitter
	logger  logging.Logger
	cfg     Config

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a store. blobs may be nil to disable disk overflow; emitter
// and logger may be nil.
func New(blobs state.BlobStore, emitter *events.Emitter, logger logging.Logger, cfg Config) *Store {
	if logger == nil {
		logger = logging.NoOp{}
	}
	s := &Store{
		contexts: make(map[string]*ConversationContext),
		onDisk:   make(map[string]bool),
		blobs:    blobs,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	if blobs != nil && cfg.OverflowIdle > 0 {
		go s.overflowLoop()
	}
	return s
}

// Close stops the background overflow loop.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Initialize creates (or resets) the context for an entity. Constraints
// with a non-positive context window are rejected.
func (s *Store) Initialize(entityID string, constraints models.ModelConstraints) error {
	if constraints.ContextWindow <= 0 {
		return newResourceError(CodeInvalidConstraints, entityID,
			"context window must be positive, got %d", constraints.ContextWindow)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.contexts[entityID] = &ConversationContext{
		EntityID:    entityID,
		Messages:    []models.Message{},
		Constraints: constraints,
		Metadata:    Metadata{CreatedAt: now, LastUpdated: now, LastAccess: now},
	}
	// Resetting an entity supersedes any spilled copy.
	if s.onDisk[entityID] {
		delete(s.onDisk, entityID)
		s.removeBlob(entityID)
	}
	return nil
}

// AddMessage validates and admits a message, evicting the oldest messages
// when the window cannot otherwise fit it. The newest message is always
// preserved; a message whose own cost exceeds the window is rejected
// outright rather than admitted and truncated.
func (s *Store) AddMessage(entityID string, role models.Role, content string) error {
	if !role.Valid() {
		return newResourceError(CodeInvalidMessage, entityID, "role %q is not one of user, assistant, system", role)
	}
	if strings.TrimSpace(content) == "" {
		return newResourceError(CodeInvalidMessage, entityID, "content is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.loadLocked(entityID)
	if !ok {
		return newResourceError(CodeContextNotFound, entityID, "context not initialized")
	}

	cost := TokenCost(role, content)
	window := ctx.Constraints.ContextWindow
	if cost > window {
		return newResourceError(CodeResourceExhausted, entityID,
			"token limit exceeded: message cost %d exceeds context window %d", cost, window)
	}
	if max := ctx.Constraints.MaxTokens; max > 0 && cost > max {
		return newResourceError(CodeMessageTooLarge, entityID,
			"message cost %d exceeds per-message limit %d", cost, max)
	}

	// Near the window, compress older messages before eviction is needed.
	if s.cfg.OptimizeThreshold > 0 &&
		float64(ctx.TokenCount+cost) >= s.cfg.OptimizeThreshold*float64(window) {
		s.optimizeLocked(ctx)
	}

	// Evict oldest-first until the new message fits.
	for ctx.TokenCount+cost > window && len(ctx.Messages) > 0 {
		evicted := ctx.Messages[0]
		ctx.Messages = ctx.Messages[1:]
		ctx.TokenCount -= evicted.Tokens
	}

	now := time.Now()
	ctx.Messages = append(ctx.Messages, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Tokens:    cost,
	})
	ctx.TokenCount += cost
	ctx.Metadata.LastUpdated = now
	ctx.Metadata.LastAccess = now
	return nil
}

// GetContext returns a copy of the entity's context, or (nil, false) if the
// id was never initialized or was removed. A memory miss falls through to
// the disk store; a corrupted disk payload is treated as a clean miss.
func (s *Store) GetContext(entityID string) (*ConversationContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.loadLocked(entityID)
	if !ok {
		return nil, false
	}
	ctx.Metadata.LastAccess = time.Now()
	return ctx.clone(), true
}

// Cleanup removes one entity's state, in memory and on disk, and emits a
// context-cleanup event. Unknown ids fail with a cleanup error; concurrent
// cleanups of the same id are tolerated (the losers get that error).
func (s *Store) Cleanup(entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, inMemory := s.contexts[entityID]
	if !inMemory && !s.onDisk[entityID] {
		return newResourceError(CodeCleanupFailed, entityID, "no context to clean up")
	}

	delete(s.contexts, entityID)
	if s.onDisk[entityID] {
		delete(s.onDisk, entityID)
		s.removeBlob(entityID)
	}
	s.emit(events.TypeContextCleanup, entityID, nil)
	return nil
}

// CleanupAll removes all entities' state. It never fails.
func (s *Store) CleanupAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.contexts {
		delete(s.contexts, id)
		s.emit(events.TypeContextCleanup, id, nil)
	}
	for id := range s.onDisk {
		delete(s.onDisk, id)
		s.removeBlob(id)
		s.emit(events.TypeContextCleanup, id, nil)
	}
}

// EntityIDs returns the ids of all live contexts, in memory or on disk.
func (s *Store) EntityIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.contexts)+len(s.onDisk))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	for id := range s.onDisk {
		ids = append(ids, id)
	}
	return ids
}

// Spill writes the entity's context to the blob store and drops it from
// memory. Write failures are logged and swallowed; the in-memory copy
// stays authoritative.
func (s *Store) Spill(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spillLocked(entityID)
}

func (s *Store) spillLocked(entityID string) {
	ctx, ok := s.contexts[entityID]
	if !ok || s.blobs == nil {
		return
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		s.logger.Warn("context spill encode failed", "entity_id", entityID, "error", err)
		return
	}
	if err := s.blobs.Write(diskKeyPrefix+entityID, raw); err != nil {
		s.logger.Warn("context spill write failed", "entity_id", entityID, "error", err)
		return
	}
	delete(s.contexts, entityID)
	s.onDisk[entityID] = true
	s.emit(events.TypeResourcePressure, entityID, map[string]float64{
		"token_count": float64(ctx.TokenCount),
	})
}

// loadLocked resolves an entity's context from memory, falling back to the
// disk store. A corrupted or unreadable disk payload is a clean miss: the
// bad blob is dropped so the entity can be reinitialized.
func (s *Store) loadLocked(entityID string) (*ConversationContext, bool) {
	if ctx, ok := s.contexts[entityID]; ok {
		return ctx, true
	}
	if !s.onDisk[entityID] || s.blobs == nil {
		return nil, false
	}

	delete(s.onDisk, entityID)
	raw, err := s.blobs.Read(diskKeyPrefix + entityID)
	if err != nil {
		s.logger.Warn("context disk read failed, treating as miss", "entity_id", entityID, "error", err)
		s.removeBlob(entityID)
		return nil, false
	}
	var ctx ConversationContext
	if err := json.Unmarshal(raw, &ctx); err != nil {
		s.logger.Warn("context disk payload corrupted, treating as miss", "entity_id", entityID, "error", err)
		s.removeBlob(entityID)
		return nil, false
	}
	s.contexts[entityID] = &ctx
	s.removeBlob(entityID)
	return &ctx, true
}

// optimizeLocked reduces the weight of older messages by truncating their
// content; the newest message is never touched. Token counts are recomputed
// from the compressed content.
func (s *Store) optimizeLocked(ctx *ConversationContext) {
	if len(ctx.Messages) < 2 {
		return
	}

	saved := 0
	for i := 0; i < len(ctx.Messages)-1; i++ {
		m := &ctx.Messages[i]
		if m.Compressed || len(m.Content) <= compressKeep {
			continue
		}
		m.Content = m.Content[:compressKeep] + compressMarker
		m.Compressed = true
		newCost := TokenCost(m.Role, m.Content)
		saved += m.Tokens - newCost
		ctx.TokenCount += newCost - m.Tokens
		m.Tokens = newCost
	}

	if saved > 0 {
		s.emit(events.TypeMemoryOptimized, ctx.EntityID, map[string]float64{
			"tokens_saved": float64(saved),
			"token_count":  float64(ctx.TokenCount),
		})
	}
}

const (
	// compressKeep is how many leading bytes survive compression.
	compressKeep = 64
	// compressMarker flags truncated content.
	compressMarker = "…[truncated]"
)

// overflowLoop periodically spills contexts idle for longer than the
// configured window. Best effort: never blocks foreground mutation.
func (s *Store) overflowLoop() {
	ticker := time.NewTicker(s.cfg.OverflowIdle)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.spillIdle()
		}
	}
}

func (s *Store) spillIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.cfg.OverflowIdle)
	for id, ctx := range s.contexts {
		if ctx.Metadata.LastAccess.Before(cutoff) {
			s.spillLocked(id)
		}
	}
}

func (s *Store) removeBlob(entityID string) {
	if s.blobs == nil {
		return
	}
	if err := s.blobs.Remove(diskKeyPrefix + entityID); err != nil {
		s.logger.Warn("context blob remove failed", "entity_id", entityID, "error", err)
	}
}

func (s *Store) emit(t events.Type, entityID string, metrics map[string]float64) {
	if s.emitter == nil {
		return
	}
	ev := events.New(t)
	ev.EntityID = entityID
	ev.Metrics = metrics
	s.emitter.Emit(ev)
}
