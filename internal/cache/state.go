package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"futures-decision-engine/internal/engine"
)

// Engine state lives under one key; a stale snapshot is worse than none.
const (
	keyEngineState = "engine:state"
	stateTTL       = 48 * time.Hour
)

// KV is the cache surface the state store needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	IsHealthy() bool
}

// StateCache persists engine protection snapshots so crash pauses, breaker
// history and sizing statistics survive restarts.
type StateCache struct {
	kv     KV
	logger zerolog.Logger
}

// NewStateCache creates a state cache over kv.
func NewStateCache(kv KV, logger zerolog.Logger) *StateCache {
	return &StateCache{
		kv:     kv,
		logger: logger.With().Str("component", "state_cache").Logger(),
	}
}

// SaveState writes the snapshot. A degraded cache returns an error; the
// caller only loses durability, never correctness.
func (sc *StateCache) SaveState(ctx context.Context, snap engine.StateSnapshot) error {
	if err := sc.kv.Set(ctx, keyEngineState, snap, stateTTL); err != nil {
		return fmt.Errorf("saving engine state: %w", err)
	}
	sc.logger.Debug().Time("saved_at", snap.SavedAt).Msg("Engine state saved")
	return nil
}

// LoadState reads the last snapshot. ok is false when no snapshot exists.
func (sc *StateCache) LoadState(ctx context.Context) (engine.StateSnapshot, bool, error) {
	var snap engine.StateSnapshot

	raw, err := sc.kv.Get(ctx, keyEngineState)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, false, nil
		}
		return snap, false, fmt.Errorf("loading engine state: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return snap, false, fmt.Errorf("corrupt engine state snapshot: %w", err)
	}
	return snap, true, nil
}
