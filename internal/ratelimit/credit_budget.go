// Package ratelimit tracks the quotes API credit budget shared by every
// process that talks to the provider with the same key.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values. The free plan allows roughly 333
// credits a day.
const (
	DefaultTotalBudget    = 300
	DefaultReservedBudget = 100
	DefaultWindowSize     = 24 * time.Hour
	DefaultKeyPrefix      = "credits:"
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for interactive requests (uses the reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for background refreshes (uses the shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx with the priority its upstream calls are billed at
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFromContext returns the priority set on ctx, PriorityHigh if none
func PriorityFromContext(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityHigh
}

// CreditBudgetConfig holds configuration for the credit budget.
type CreditBudgetConfig struct {
	// Redis coordinates consumption across processes. Required.
	Redis redis.Cmdable

	// TotalBudget is the number of credits per window. Default: 300.
	TotalBudget int

	// ReservedBudget is held back for PriorityHigh. Default: 100.
	ReservedBudget int

	// WindowSize is the budget period, aligned to UTC. Default: 24h.
	WindowSize time.Duration

	// KeyPrefix namespaces the Redis counters. Default: "credits:".
	KeyPrefix string

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Validate checks if the configuration is valid.
func (c *CreditBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	total := c.TotalBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	reserved := c.ReservedBudget
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

// CreditBudget splits a per-window credit allowance into a reserved pool for
// interactive requests and a shared pool for background work. Both pools
// also count against the total.
type CreditBudget struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyPrefix      string
	now            func() time.Time
}

// Usage contains current consumption.
type Usage struct {
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// NewCreditBudget creates a budget with the given configuration.
func NewCreditBudget(cfg CreditBudgetConfig) (*CreditBudget, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.TotalBudget == 0 {
		cfg.TotalBudget = DefaultTotalBudget
	}
	if cfg.ReservedBudget == 0 {
		cfg.ReservedBudget = DefaultReservedBudget
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &CreditBudget{
		redis:          cfg.Redis,
		totalBudget:    cfg.TotalBudget,
		reservedBudget: cfg.ReservedBudget,
		sharedBudget:   cfg.TotalBudget - cfg.ReservedBudget,
		windowSize:     cfg.WindowSize,
		keyPrefix:      cfg.KeyPrefix,
		now:            cfg.Now,
	}, nil
}

func (b *CreditBudget) windowStart() time.Time {
	return b.now().UTC().Truncate(b.windowSize)
}

func (b *CreditBudget) keys(start time.Time) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(start.Unix(), 10)
	return b.keyPrefix + "total:" + ts, b.keyPrefix + "reserved:" + ts, b.keyPrefix + "shared:" + ts
}

// consumeScript checks both the total and the pool and increments them
// together, so concurrent callers can never overdraw either.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local credits = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + credits > totalBudget then
		return 0
	end
	if poolUsed + credits > poolBudget then
		return 0
	end

	redis.call('INCRBY', totalKey, credits)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, credits)
	redis.call('EXPIRE', poolKey, ttl)
	return 1
`)

// TryConsume takes credits from the pool for priority. When the budget is
// spent it returns false and the time until the window resets. A Redis
// failure denies the request and is returned alongside.
func (b *CreditBudget) TryConsume(ctx context.Context, credits int, priority Priority) (bool, time.Duration, error) {
	if credits <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	poolKey, poolBudget := reservedKey, b.reservedBudget
	if priority != PriorityHigh {
		poolKey, poolBudget = sharedKey, b.sharedBudget
	}

	ttl := int((b.windowSize + time.Hour).Seconds())
	allowed, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		credits, b.totalBudget, poolBudget, ttl).Int()
	if err != nil {
		return false, b.untilReset(start), fmt.Errorf("consume credits: %w", err)
	}
	if allowed != 1 {
		return false, b.untilReset(start), nil
	}
	return true, 0, nil
}

func (b *CreditBudget) untilReset(start time.Time) time.Duration {
	wait := start.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		return 0
	}
	return wait
}

// Usage returns consumption in the current window.
func (b *CreditBudget) Usage(ctx context.Context) (Usage, error) {
	start := b.windowStart()
	totalKey, reservedKey, sharedKey := b.keys(start)

	values, err := b.redis.MGet(ctx, totalKey, reservedKey, sharedKey).Result()
	if err != nil {
		return Usage{}, fmt.Errorf("read credit usage: %w", err)
	}

	return Usage{
		TotalUsed:      parseIntOrZero(values[0]),
		ReservedUsed:   parseIntOrZero(values[1]),
		SharedUsed:     parseIntOrZero(values[2]),
		TotalBudget:    b.totalBudget,
		ReservedBudget: b.reservedBudget,
		SharedBudget:   b.sharedBudget,
		WindowStart:    start,
	}, nil
}

// parseIntOrZero parses an MGET value, treating missing keys as 0.
func parseIntOrZero(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
