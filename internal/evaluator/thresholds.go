package evaluator

import (
	"context"
	"errors"
	"sync"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// ThresholdStore storage lookup for per-signal thresholds
type ThresholdStore interface {
	GetThreshold(ctx context.Context, signal string) (models.Threshold, error)
}

type cachedThreshold struct {
	threshold models.Threshold
	ok        bool
	expires   time.Time
}

// ThresholdProvider resolves thresholds from storage with a TTL cache, falling back to configured defaults
type ThresholdProvider struct {
	store    ThresholdStore
	defaults map[string]models.Threshold
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedThreshold
}

// NewThresholdProvider store may be nil, in which case only defaults are served
func NewThresholdProvider(store ThresholdStore, defaults map[string]models.Threshold, ttl time.Duration, logger *zap.Logger) *ThresholdProvider {
	d := make(map[string]models.Threshold, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &ThresholdProvider{
		store:    store,
		defaults: d,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]cachedThreshold),
	}
}

// SetClock replaces the time source
func (p *ThresholdProvider) SetClock(now func() time.Time) {
	p.now = now
}

// Get returns the threshold for signal; ok is false when neither storage nor defaults define one
func (p *ThresholdProvider) Get(ctx context.Context, signal string) (models.Threshold, bool) {
	now := p.now()

	p.mu.Lock()
	if c, hit := p.cache[signal]; hit && now.Before(c.expires) {
		p.mu.Unlock()
		return c.threshold, c.ok
	}
	p.mu.Unlock()

	t, ok := p.resolve(ctx, signal)

	p.mu.Lock()
	p.cache[signal] = cachedThreshold{threshold: t, ok: ok, expires: now.Add(p.ttl)}
	p.mu.Unlock()

	return t, ok
}

// ForSignals resolves every listed signal, omitting those without a threshold
func (p *ThresholdProvider) ForSignals(ctx context.Context, signals []string) map[string]models.Threshold {
	out := make(map[string]models.Threshold, len(signals))
	for _, s := range signals {
		if t, ok := p.Get(ctx, s); ok {
			out[s] = t
		}
	}
	return out
}

// Invalidate drops cached entries so the next lookup hits storage
func (p *ThresholdProvider) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[string]cachedThreshold)
	p.mu.Unlock()
}

func (p *ThresholdProvider) resolve(ctx context.Context, signal string) (models.Threshold, bool) {
	if p.store != nil {
		t, err := p.store.GetThreshold(ctx, signal)
		if err == nil {
			return t, true
		}
		if !errors.Is(err, repository.ErrThresholdNotFound) {
			p.logger.Warn("Failed to load threshold, using default",
				zap.String("signal", signal),
				zap.Error(err),
			)
		}
	}
	t, ok := p.defaults[signal]
	return t, ok
}
