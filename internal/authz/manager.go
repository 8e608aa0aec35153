package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/ai-aas/services/auth-gateway-service/internal/metrics"
)

// DefaultRefreshInterval is the backstop reload cadence. It corrects any
// drift from lost invalidation broadcasts or an evicted shared cache.
const DefaultRefreshInterval = time.Hour

// Manager owns the engine's snapshot lifecycle: the mandatory first load,
// the hourly backstop refresh, and forced reloads triggered by invalidation
// broadcasts.
type Manager struct {
	engine  *Engine
	loader  *Loader
	logger  zerolog.Logger
	started bool
}

// NewManager bundles an engine and loader.
func NewManager(engine *Engine, loader *Loader, logger zerolog.Logger) *Manager {
	return &Manager{
		engine: engine,
		loader: loader,
		logger: logger.With().Str("component", "authz.manager").Logger(),
	}
}

// Engine exposes the managed engine for the request path.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Start performs the initial rule load. It fails hard when the table cannot
// be built: serving with an empty table would let every unmapped route fall
// through to the authenticated-allow default, which is fail-open for the
// whole protected surface.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Refresh(ctx, false); err != nil {
		return fmt.Errorf("authz: initial rule load: %w", err)
	}
	m.started = true
	return nil
}

// Refresh rebuilds the snapshot and swaps it in atomically. After a
// successful Start, failures are logged and swallowed; the node keeps
// serving the last good snapshot rather than crashing or fail-opening.
func (m *Manager) Refresh(ctx context.Context, forceAuthoritative bool) error {
	rules, err := m.loader.Load(ctx, forceAuthoritative)
	if err != nil {
		metrics.RecordRuleReload("error")
		if !m.started {
			return err
		}
		m.logger.Error().Err(err).Msg("rule refresh failed, keeping previous snapshot")
		return nil
	}

	snapshot := NewSnapshot(rules)
	m.engine.Swap(snapshot)
	metrics.RecordRuleReload("ok")
	metrics.SetRuleCount(snapshot.Len())
	m.logger.Debug().Int("rules", snapshot.Len()).Bool("forced", forceAuthoritative).Msg("rule snapshot swapped")
	return nil
}

// RunBackstop refreshes on a ticker until the context is cancelled. It
// prefers the shared cache (force=false) to bound load on the store; true
// coherence comes from the invalidation listener.
func (m *Manager) RunBackstop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Refresh(ctx, false)
		}
	}
}
