package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// breakerMaxTimeout caps the circuit breaker's open-state duration
// regardless of how many consecutive trips have occurred.
const breakerMaxTimeout = 300 * time.Second

// breakerJitterFrac is the +/- fraction of jitter applied to the computed
// open-state timeout.
const breakerJitterFrac = 0.20

// Config tunes the Bus's Redis connection and circuit breaker.
type Config struct {
	Addr            string
	Password        string
	DB              int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BreakerMaxFails uint32
	BreakerTimeout  time.Duration
	Logger          zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.BreakerMaxFails <= 0 {
		c.BreakerMaxFails = 3
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Bus publishes typed events to Redis channels and lets callers subscribe to
// channels or glob patterns. Every publish is routed through a gobreaker
// circuit breaker so a string of Redis failures trips the breaker and fails
// fast instead of piling up blocked publishers; Subscribe, PSubscribe and
// Ping go to Redis directly. spec.md treats a broken bus as a degraded, not
// fatal, condition.
//
// gobreaker.Settings.Timeout is a single fixed duration, but spec.md's
// backoff grows with each consecutive trip: min(300s, 30s·2^(n-3)) with
// +/-20% jitter. To get that out of a library built around a static
// Timeout, Bus rebuilds the underlying breaker on every trip, each time
// pre-computing the Timeout the *next* trip should use from a trip counter
// Bus maintains itself; a successful publish resets the counter back to the
// base 30s.
type Bus struct {
	client *redis.Client
	log    zerolog.Logger
	cfg    Config

	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration // Timeout the live breaker was built with
	trips   uint32         // consecutive trips since the last full recovery
}

// New dials Redis and wires the circuit breaker described by cfg.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	b := &Bus{client: client, log: cfg.Logger, cfg: cfg}
	b.breaker, b.timeout = b.buildBreaker(0)
	return b
}

// buildBreaker constructs a breaker whose open-state Timeout is
// spec.md's backoff formula evaluated at n = 3 + trips: trips=0 is the
// baseline third-consecutive-failure trip (30s), and each further
// back-to-back trip without an intervening full recovery doubles it, up to
// the 300s cap.
func (b *Bus) buildBreaker(trips uint32) (*gobreaker.CircuitBreaker, time.Duration) {
	timeout := backoffTimeout(b.cfg.BreakerTimeout, trips)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventbus-redis",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.BreakerMaxFails
		},
		OnStateChange: b.onBreakerStateChange,
	})
	return breaker, timeout
}

// onBreakerStateChange reacts to gobreaker's own transitions. Tripping to
// Open schedules a swap-in of a freshly built breaker (with the next,
// larger timeout) timed to land exactly when the current open period would
// otherwise hand control back to gobreaker's half-open probe. A probe that
// succeeds back to Closed means the bus recovered, so the trip counter
// resets to the baseline.
func (b *Bus) onBreakerStateChange(name string, from, to gobreaker.State) {
	b.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("eventbus circuit breaker state change")

	switch to {
	case gobreaker.StateOpen:
		b.mu.Lock()
		currentTimeout := b.timeout
		b.trips++
		next, nextTimeout := b.buildBreaker(b.trips)
		b.mu.Unlock()
		time.AfterFunc(currentTimeout, func() {
			b.mu.Lock()
			b.breaker, b.timeout = next, nextTimeout
			b.mu.Unlock()
		})
	case gobreaker.StateClosed:
		b.mu.Lock()
		b.trips = 0
		b.breaker, b.timeout = b.buildBreaker(0)
		b.mu.Unlock()
	}
}

func (b *Bus) currentBreaker() *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.breaker
}

// backoffTimeout implements spec.md's min(300s, base·2^trips) with +/-20%
// jitter; base is cfg.BreakerTimeout (defaulted to 30s).
func backoffTimeout(base time.Duration, trips uint32) time.Duration {
	shift := trips
	if shift > 10 {
		shift = 10 // 2^10 already saturates past the 300s cap
	}
	d := base * time.Duration(uint64(1)<<shift)
	if d <= 0 || d > breakerMaxTimeout {
		d = breakerMaxTimeout
	}
	return jitter(d, breakerJitterFrac)
}

func jitter(d time.Duration, frac float64) time.Duration {
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

// Ping reports whether Redis is currently reachable, without routing
// through the breaker (used by health checks that want the raw signal).
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error { return b.client.Close() }

// PublishRaw publishes a pre-encoded payload to channel, bypassing the
// typed Publish* helpers. Used by worker agents to answer an immediate
// command on its caller-specified response channel.
func (b *Bus) PublishRaw(ctx context.Context, channel string, payload []byte) error {
	return b.publish(ctx, channel, payload)
}

func (b *Bus) publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.currentBreaker().Execute(func() (interface{}, error) {
		return nil, b.client.Publish(ctx, channel, payload).Err()
	})
	if err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("eventbus publish failed")
		return err
	}
	// Swapped-in breakers start Closed and never report a transition back
	// to Closed, so a success is where the trip counter is reset.
	b.mu.Lock()
	if b.trips > 0 {
		b.trips = 0
		b.breaker, b.timeout = b.buildBreaker(0)
	}
	b.mu.Unlock()
	return nil
}

// PublishProgress mirrors the original publish_progress: it fans the same
// payload out to the video-specific channel and the aggregate "all" channel
// used by the operator dashboard.
func (b *Bus) PublishProgress(ctx context.Context, evt ProgressEvent) error {
	evt.Type = EventProgress
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	errVideo := b.publish(ctx, ChannelName(ChannelProgress, evt.VideoID), payload)
	errAll := b.publish(ctx, ChannelName(ChannelProgress, "all"), payload)
	if errVideo != nil {
		return errVideo
	}
	return errAll
}

// PublishWorkerStatus announces a worker status transition.
func (b *Bus) PublishWorkerStatus(ctx context.Context, evt WorkerStatusEvent) error {
	evt.Type = EventWorkerStatus
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal worker status event: %w", err)
	}
	return b.publish(ctx, ChannelName(ChannelWorkersStatus, "status"), payload)
}

// PublishJobCompleted announces a successful transcode on the jobs:completed
// channel and, like the original, also nudges the per-video and aggregate
// progress channels so SSE subscribers see the terminal state.
func (b *Bus) PublishJobCompleted(ctx context.Context, evt JobCompletedEvent) error {
	evt.Type = EventJobCompleted
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal job completed event: %w", err)
	}
	err1 := b.publish(ctx, ChannelName(ChannelJobsCompleted, "completed"), payload)
	err2 := b.publish(ctx, ChannelName(ChannelProgress, evt.VideoID), payload)
	err3 := b.publish(ctx, ChannelName(ChannelProgress, "all"), payload)
	for _, e := range []error{err1, err2, err3} {
		if e != nil {
			return e
		}
	}
	return nil
}

// PublishJobFailed announces a failed attempt, truncating Error to 200
// bytes before it is ever serialized.
func (b *Bus) PublishJobFailed(ctx context.Context, evt JobFailedEvent) error {
	evt.Type = EventJobFailed
	evt.Error = truncateError(evt.Error)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal job failed event: %w", err)
	}
	err1 := b.publish(ctx, ChannelName(ChannelJobsCompleted, "failed"), payload)
	err2 := b.publish(ctx, ChannelName(ChannelProgress, evt.VideoID), payload)
	err3 := b.publish(ctx, ChannelName(ChannelProgress, "all"), payload)
	for _, e := range []error{err1, err2, err3} {
		if e != nil {
			return e
		}
	}
	return nil
}

// PublishCommand delivers an operator command to a specific worker's
// command channel.
func (b *Bus) PublishCommand(ctx context.Context, evt CommandEvent) error {
	evt.Type = EventCommand
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal command event: %w", err)
	}
	return b.publish(ctx, ChannelName(ChannelCommands, evt.WorkerID), payload)
}

// Subscription wraps a go-redis PubSub with a typed Close.
type Subscription struct {
	ps *redis.PubSub
}

// Channel returns the underlying delivery channel of *redis.Message.
func (s *Subscription) Channel() <-chan *redis.Message { return s.ps.Channel() }

// Close unsubscribes and releases the connection back to the pool.
func (s *Subscription) Close() error { return s.ps.Close() }

// Subscribe opens a subscription to one or more exact channel names.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) *Subscription {
	return &Subscription{ps: b.client.Subscribe(ctx, channels...)}
}

// PSubscribe opens a subscription to one or more glob-style channel
// patterns, e.g. "vlog:progress:*".
func (b *Bus) PSubscribe(ctx context.Context, patterns ...string) *Subscription {
	return &Subscription{ps: b.client.PSubscribe(ctx, patterns...)}
}
