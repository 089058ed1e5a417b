package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/gql-response-cache/pkg/eligibility"
	"github.com/Sternrassler/gql-response-cache/pkg/logging"
	"github.com/Sternrassler/gql-response-cache/pkg/request"
	"github.com/rs/zerolog"
)

// Protocol defaults.
const (
	// DefaultLoadingTTL bounds how long a crashed computer can hold a slot.
	DefaultLoadingTTL = 120 * time.Second

	// DefaultPollInterval is the delay between re-reads of a loading slot.
	DefaultPollInterval = 1 * time.Second

	// DefaultPollTimeout is the total wait budget before recomputing.
	DefaultPollTimeout = 30 * time.Second
)

// Outcome describes what Intercept decided.
type Outcome int

const (
	// OutcomeBypass: request is not eligible; the store was not consulted.
	OutcomeBypass Outcome = iota

	// OutcomeRevalidate: caller forced recomputation.
	OutcomeRevalidate

	// OutcomeCompute: this requester claimed the slot and must compute.
	OutcomeCompute

	// OutcomeHit: a ready value was served.
	OutcomeHit

	// OutcomeWaited: a ready value appeared while polling.
	OutcomeWaited

	// OutcomeTimeout: the poll budget expired; computation proceeds.
	OutcomeTimeout
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeBypass:
		return "bypass"
	case OutcomeRevalidate:
		return "revalidate"
	case OutcomeCompute:
		return "compute"
	case OutcomeHit:
		return "hit"
	case OutcomeWaited:
		return "waited"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Decision is the result of Intercept.
type Decision struct {
	Outcome Outcome

	// Key is the derived store key (empty for OutcomeBypass)
	Key string

	// Response is set when the caller should short-circuit
	Response *Response
}

// ShortCircuit reports whether the cached Response replaces computation.
func (d Decision) ShortCircuit() bool {
	return d.Response != nil
}

// Config holds coordinator configuration.
type Config struct {
	// Filter decides eligibility (required)
	Filter *eligibility.Filter

	// Policy selects write-back TTLs
	Policy TTLPolicy

	// Fingerprint selects the query reduction used in keys
	Fingerprint FingerprintMode

	// LoadingTTL is the expiry of the loading marker
	LoadingTTL time.Duration

	// PollInterval is the delay between polls
	PollInterval time.Duration

	// PollTimeout is the total poll budget
	PollTimeout time.Duration

	// Logger defaults to the "cache" component logger
	Logger *zerolog.Logger
}

// DefaultConfig returns the protocol defaults for a filter. The TTL policy
// uses the filter's rules as override table.
func DefaultConfig(filter *eligibility.Filter) Config {
	cfg := Config{
		Filter:       filter,
		Fingerprint:  FingerprintDigest,
		LoadingTTL:   DefaultLoadingTTL,
		PollInterval: DefaultPollInterval,
		PollTimeout:  DefaultPollTimeout,
	}
	if filter != nil {
		cfg.Policy.Rules = filter.Rules
	}
	return cfg
}

// Coordinator runs the absent/loading/ready slot protocol for one store.
// It keeps no slot state in memory; all coordination goes through the store.
type Coordinator struct {
	store  Store
	config Config
	logger zerolog.Logger
}

// NewCoordinator creates a coordinator. Zero durations take the defaults.
func NewCoordinator(store Store, cfg Config) *Coordinator {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if cfg.Filter == nil {
		cfg.Filter = &eligibility.Filter{}
	}
	if cfg.LoadingTTL <= 0 {
		cfg.LoadingTTL = DefaultLoadingTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}

	logger := logging.NewLogger("cache")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Coordinator{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// IsCacheable reports whether the request takes part in caching.
func (c *Coordinator) IsCacheable(d *request.Descriptor) bool {
	return c.config.Filter.IsCacheable(d)
}

// DeriveKey builds the store key of a request.
func (c *Coordinator) DeriveKey(d *request.Descriptor) string {
	return DeriveKey(d, c.config.Fingerprint).String()
}

// Intercept runs before computation. A Decision with a Response means the
// caller must serve it instead of computing. Store failures and corrupt
// entries are returned as errors, never treated as misses.
func (c *Coordinator) Intercept(ctx context.Context, d *request.Descriptor) (Decision, error) {
	if !c.IsCacheable(d) {
		return c.decide(Decision{Outcome: OutcomeBypass}), nil
	}

	key := c.DeriveKey(d)
	if d.MustRevalidate() {
		c.logger.Debug().Str("key", key).Msg("Revalidation forced")
		return c.decide(Decision{Outcome: OutcomeRevalidate, Key: key}), nil
	}

	slot, err := c.load(ctx, key)
	if err != nil {
		return Decision{Key: key}, err
	}

	c.logger.Debug().
		Str("key", key).
		Str("state", slot.State.String()).
		Msg("Intercept")

	switch slot.State {
	case SlotAbsent:
		return c.claim(ctx, key)
	case SlotLoading:
		return c.wait(ctx, key)
	default:
		c.logger.Info().Str("key", key).Msg("Cache hit")
		return c.decide(Decision{Outcome: OutcomeHit, Key: key, Response: slot.Response}), nil
	}
}

// claim tries to become the computer for key.
func (c *Coordinator) claim(ctx context.Context, key string) (Decision, error) {
	won, err := c.setLoading(ctx, key)
	if err != nil {
		return Decision{Key: key}, err
	}
	if won {
		c.logger.Info().Str("key", key).Msg("Cache miss, computing")
		return c.decide(Decision{Outcome: OutcomeCompute, Key: key}), nil
	}

	// Lost the race; the winner's marker or result is there now
	slot, err := c.load(ctx, key)
	if err != nil {
		return Decision{Key: key}, err
	}
	if slot.State == SlotReady {
		c.logger.Info().Str("key", key).Msg("Cache hit")
		return c.decide(Decision{Outcome: OutcomeHit, Key: key, Response: slot.Response}), nil
	}
	return c.wait(ctx, key)
}

// wait polls a loading slot and records the outcome.
func (c *Coordinator) wait(ctx context.Context, key string) (Decision, error) {
	c.logger.Info().Str("key", key).Msg("Polling for ongoing computation")

	start := time.Now()
	decision, err := c.poll(ctx, key)
	waited := time.Since(start)
	PollWait.Observe(waited.Seconds())
	if err != nil {
		return decision, err
	}

	switch decision.Outcome {
	case OutcomeWaited:
		c.logger.Info().Str("key", key).Dur("waited", waited).Msg("Served result of concurrent computation")
	case OutcomeTimeout:
		c.logger.Warn().Str("key", key).Dur("waited", waited).Msg("Reached polling timeout, computing")
	case OutcomeCompute:
		c.logger.Info().Str("key", key).Dur("waited", waited).Msg("Loading marker released, computing")
	}
	return c.decide(decision), nil
}

// poll re-reads key every PollInterval until it is ready or PollTimeout
// elapses. One deadline bounds the whole wait. If the slot goes absent the
// poller tries to claim it.
func (c *Coordinator) poll(ctx context.Context, key string) (Decision, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.config.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	timedOut := func() bool {
		return pollCtx.Err() != nil && ctx.Err() == nil
	}

	for {
		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return Decision{Key: key}, err
			}
			return Decision{Outcome: OutcomeTimeout, Key: key}, nil
		case <-ticker.C:
		}

		slot, err := c.load(pollCtx, key)
		if err != nil {
			if timedOut() {
				return Decision{Outcome: OutcomeTimeout, Key: key}, nil
			}
			return Decision{Key: key}, err
		}

		switch slot.State {
		case SlotReady:
			return Decision{Outcome: OutcomeWaited, Key: key, Response: slot.Response}, nil
		case SlotAbsent:
			won, err := c.setLoading(pollCtx, key)
			if err != nil {
				if timedOut() {
					return Decision{Outcome: OutcomeTimeout, Key: key}, nil
				}
				return Decision{Key: key}, err
			}
			if won {
				return Decision{Outcome: OutcomeCompute, Key: key}, nil
			}
		}
	}
}

// WriteBack runs after computation. It stores resp as ready unless a ready
// value already exists and the caller did not force revalidation. Error
// responses are never stored; a pending loading marker is released instead.
//
// The ready check re-reads the store; concurrent computers may both write
// and the last write wins.
func (c *Coordinator) WriteBack(ctx context.Context, d *request.Descriptor, resp *Response) error {
	if !c.IsCacheable(d) {
		return nil
	}
	key := c.DeriveKey(d)

	if resp == nil || resp.HasErrors() {
		return c.release(ctx, key)
	}

	current, err := c.load(ctx, key)
	if err != nil && !errors.Is(err, ErrInvalidEntry) {
		return err
	}
	if err == nil && current.State == SlotReady && !d.MustRevalidate() {
		Writes.WithLabelValues("skipped").Inc()
		c.logger.Debug().Str("key", key).Msg("Ready value present, skipping write-back")
		return nil
	}

	ttl := c.config.Policy.Select(d.OperationName)
	data, err := encodeReady(resp)
	if err != nil {
		return fmt.Errorf("encode slot: %w", err)
	}

	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return c.storeError(key, "set", err)
	}

	Writes.WithLabelValues("stored").Inc()
	StoredBytes.Add(float64(len(data)))
	c.logger.Info().
		Str("key", key).
		Str("operation", d.OperationName).
		Dur("ttl", ttl).
		Msg("Caching response")

	return nil
}

// release removes a loading marker left by a computation that produced no
// cacheable result, so pollers stop waiting on it.
func (c *Coordinator) release(ctx context.Context, key string) error {
	current, err := c.load(ctx, key)
	if err != nil && !errors.Is(err, ErrInvalidEntry) {
		return err
	}
	if err != nil || current.State != SlotLoading {
		Writes.WithLabelValues("skipped").Inc()
		return nil
	}

	if err := c.store.Delete(ctx, key); err != nil {
		return c.storeError(key, "delete", err)
	}
	Writes.WithLabelValues("released").Inc()
	c.logger.Debug().Str("key", key).Msg("Released loading marker for uncacheable response")
	return nil
}

// load reads and decodes the slot under key.
func (c *Coordinator) load(ctx context.Context, key string) (Slot, error) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		return Slot{}, c.storeError(key, "get", err)
	}

	slot, err := decodeSlot(raw, found)
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("Corrupt cache entry")
		return Slot{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return slot, nil
}

func (c *Coordinator) setLoading(ctx context.Context, key string) (bool, error) {
	won, err := c.store.SetIfAbsent(ctx, key, encodeLoading(), c.config.LoadingTTL)
	if err != nil {
		return false, c.storeError(key, "setnx", err)
	}
	return won, nil
}

func (c *Coordinator) storeError(key, op string, err error) error {
	c.logger.Error().Err(err).Str("key", key).Str("op", op).Msg("Cache store error")
	return fmt.Errorf("%w: %s %s: %w", ErrStoreUnavailable, op, key, err)
}

func (c *Coordinator) decide(d Decision) Decision {
	Lookups.WithLabelValues(d.Outcome.String()).Inc()
	return d
}
