package notify

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"codeberg.org/mutker/telemetryd/internal/observe"
	"codeberg.org/mutker/telemetryd/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const initialRetryInterval = 100 * time.Millisecond

// Event is one fired notification. Ephemeral; exists only to drive dispatch
// and cooldown bookkeeping.
type Event struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	MetricName string    `json:"metric_name"`
	Observed   float64   `json:"observed_value"`
	Threshold  float64   `json:"threshold"`
	FiredAt    time.Time `json:"fired_at"`
}

type Config struct {
	QueueSize   int
	MaxAttempts int
}

// Notifier evaluates rules against store updates and dispatches events
// asynchronously. Evaluation enqueues onto a bounded queue; a worker
// goroutine performs delivery so a slow channel never delays ingestion.
type Notifier struct {
	rules       []Rule
	channel     Channel
	obs         *observe.Metrics
	maxAttempts int

	mu        sync.Mutex
	lastFired map[firedKey]time.Time
	closed    bool

	queue chan *Event
	done  chan struct{}
}

// firedKey identifies one (client, rule) cooldown bucket.
type firedKey struct {
	clientID string
	rule     int
}

func New(rules []Rule, channel Channel, cfg Config, obs *observe.Metrics) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	n := &Notifier{
		rules:       rules,
		channel:     channel,
		obs:         obs,
		maxAttempts: cfg.MaxAttempts,
		lastFired:   make(map[firedKey]time.Time),
		queue:       make(chan *Event, cfg.QueueSize),
		done:        make(chan struct{}),
	}
	go n.worker()

	return n
}

// Evaluate checks every configured rule against the freshly merged record
// and enqueues an event for each rule that fires outside its cooldown
// window. Never blocks: a full queue drops the event.
func (n *Notifier) Evaluate(rec *store.ClientRecord) {
	if rec == nil || len(n.rules) == 0 {
		return
	}

	now := time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	for i, rule := range n.rules {
		agg, ok := rec.Metrics[rule.Metric]
		if !ok || !rule.Fires(agg.Last) {
			continue
		}

		key := firedKey{clientID: rec.ClientID, rule: i}
		if last, ok := n.lastFired[key]; ok && now.Sub(last) < rule.Cooldown {
			continue
		}

		observed, _ := agg.Last.Number()
		ev := &Event{
			ID:         uuid.NewString(),
			ClientID:   rec.ClientID,
			MetricName: rule.Metric,
			Observed:   observed,
			Threshold:  rule.Threshold,
			FiredAt:    now,
		}

		select {
		case n.queue <- ev:
			n.lastFired[key] = now
			if n.obs != nil {
				n.obs.NotificationsFired.Inc()
				n.obs.QueueDepth.Set(float64(len(n.queue)))
			}
		default:
			if n.obs != nil {
				n.obs.NotificationsDropped.Inc()
			}
			logger.Warn().
				Str("client_id", rec.ClientID).
				Str("metric", rule.Metric).
				Msg("Notification queue full, dropping event")
		}
	}
}

// Close stops accepting events, drains the queue and waits for the worker.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
}

func (n *Notifier) worker() {
	defer close(n.done)

	for ev := range n.queue {
		if n.obs != nil {
			n.obs.QueueDepth.Set(float64(len(n.queue)))
		}
		n.dispatch(ev)
	}
}

// dispatch delivers one event, retrying with exponential backoff up to the
// attempt cap. Exhausted events are dropped and logged, never surfaced to
// the ingestion path.
func (n *Notifier) dispatch(ev *Event) {
	errFactory := errors.New()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryInterval
	policy := backoff.WithMaxRetries(bo, uint64(n.maxAttempts-1))

	err := backoff.Retry(func() error {
		return n.channel.Send(context.Background(), ev)
	}, policy)
	if err != nil {
		if n.obs != nil {
			n.obs.NotificationsDropped.Inc()
		}
		logger.ErrorWithCode(errFactory.Wrap(errors.ErrDispatchFailed, err)).
			Str("client_id", ev.ClientID).
			Str("metric", ev.MetricName).
			Int("attempts", n.maxAttempts).
			Msg("Dropping notification after retry cap")
	}
}
