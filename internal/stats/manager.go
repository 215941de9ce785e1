package stats

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/notify"
	"codeberg.org/mutker/telemetryd/internal/observe"
	"codeberg.org/mutker/telemetryd/internal/payload"
	"codeberg.org/mutker/telemetryd/internal/persist"
	"codeberg.org/mutker/telemetryd/internal/store"
)

type Config struct {
	StaleTTL      time.Duration
	EvictInterval time.Duration
	FlushInterval time.Duration
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.StaleTTL <= 0 || c.EvictInterval <= 0 || c.FlushInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c)
	}
	return nil
}

// Manager wires parser, store and notifier and owns their lifetimes. It is
// the single entry point for the routing layer: Report on the write path,
// SnapshotJSON on the read path.
type Manager struct {
	cfg      Config
	store    *store.Store
	notifier *notify.Notifier
	repo     persist.Repository
	obs      *observe.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func New(cfg Config, st *store.Store, notifier *notify.Notifier, repo persist.Repository, obs *observe.Metrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		repo:     repo,
		obs:      obs,
	}, nil
}

// Report ingests one raw request body: parse, merge, fire-and-forget rule
// evaluation, then return the input byte size. Only an invalid payload is
// surfaced to the caller; nothing past parsing can fail the operation.
func (m *Manager) Report(raw []byte) (int, error) {
	report, err := payload.Parse(raw)
	if err != nil {
		if m.obs != nil {
			m.obs.ReportsRejected.Inc()
		}
		return 0, err
	}

	start := time.Now()
	rec := m.store.Merge(report)
	if m.obs != nil {
		m.obs.MergeLatency.Observe(time.Since(start).Seconds())
		m.obs.ReportsIngested.Inc()
	}

	m.notifier.Evaluate(rec)

	return len(raw), nil
}

// SnapshotJSON serializes the current store snapshot for the dashboard: a
// JSON object keyed by client id, each client an object of metric name to
// aggregate.
func (m *Manager) SnapshotJSON() ([]byte, error) {
	errFactory := errors.New()

	snap := m.store.Snapshot()
	out := make(map[string]map[string]*store.MetricAggregate, len(snap))
	for clientID, rec := range snap {
		out[clientID] = rec.Metrics
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInternal, err)
	}
	return data, nil
}

// Start seeds the store from the last persisted snapshot and launches the
// eviction and flush loops. The loops stop when ctx is cancelled or Close
// is called.
func (m *Manager) Start(ctx context.Context) error {
	snap, err := m.repo.Load()
	if err != nil {
		return err
	}
	if len(snap) > 0 {
		m.store.Reload(snap)
		logger.Info().Int("clients", len(snap)).Msg("Seeded store from persisted snapshot")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)

	return nil
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	evictTicker := time.NewTicker(m.cfg.EvictInterval)
	defer evictTicker.Stop()
	flushTicker := time.NewTicker(m.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-evictTicker.C:
			if evicted := m.store.EvictStale(m.cfg.StaleTTL); evicted > 0 {
				if m.obs != nil {
					m.obs.ClientsEvicted.Add(float64(evicted))
				}
				logger.Info().Int("evicted", evicted).Msg("Evicted stale clients")
			}
		case <-flushTicker.C:
			m.flush()
		}
	}
}

// flush evicts opportunistically so stale clients are never persisted, then
// writes the snapshot. Flush failures are logged, never fatal.
func (m *Manager) flush() {
	if evicted := m.store.EvictStale(m.cfg.StaleTTL); evicted > 0 && m.obs != nil {
		m.obs.ClientsEvicted.Add(float64(evicted))
	}

	if err := m.repo.Save(m.store.Snapshot()); err != nil {
		logger.Error().Err(err).Msg("Failed to flush snapshot")
	}
}

// Close stops the background loops, flushes a final snapshot and shuts down
// the notifier and repository.
func (m *Manager) Close() error {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()

		m.flush()
		m.notifier.Close()

		if err := m.repo.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close snapshot repository")
		}
	})

	return nil
}
