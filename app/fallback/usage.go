package fallback

import (
	"context"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/kv"
)

const (
	DefaultDailyLimit = 20
	usageKeyPrefix    = "gnews_usage_"
	usageTTL          = 25 * time.Hour
	dayLayout         = "2006-01-02"
)

type usageRecord struct {
	Date      string    `json:"date"`
	CallsUsed int       `json:"calls_used"`
	LastCall  time.Time `json:"last_call,omitzero"`
}

// Usage is a day's fallback API consumption against the internal ceiling.
type Usage struct {
	Date      string    `json:"date"`
	CallsUsed int       `json:"calls_used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	LastCall  time.Time `json:"last_call,omitzero"`
}

// UsageTracker counts fallback API calls per UTC day.
//
// Increment is read-then-write. Two processes incrementing concurrently can
// both read the same count, so the ceiling is only guaranteed for
// non-overlapping callers.
type UsageTracker struct {
	store kv.Store
	limit int
	now   func() time.Time
}

func NewUsageTracker(store kv.Store, limit int) *UsageTracker {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &UsageTracker{
		store: store,
		limit: limit,
		now:   time.Now,
	}
}

func (u *UsageTracker) Today() string {
	return u.now().UTC().Format(dayLayout)
}

func (u *UsageTracker) Limit() int {
	return u.limit
}

func UsageKey(day string) string {
	return usageKeyPrefix + day
}

func (u *UsageTracker) GetUsage(ctx context.Context, day string) (*Usage, error) {
	record, err := u.load(ctx, day)
	if err != nil {
		return nil, err
	}
	return u.usageFrom(record), nil
}

// Increment records one network call made on day.
func (u *UsageTracker) Increment(ctx context.Context, day string) (*Usage, error) {
	record, err := u.load(ctx, day)
	if err != nil {
		return nil, err
	}

	record.CallsUsed++
	record.LastCall = u.now().UTC()

	if err := kv.PutJSON(ctx, u.store, UsageKey(day), record, usageTTL); err != nil {
		return nil, fmt.Errorf("failed to save usage for %s: %w", day, err)
	}

	return u.usageFrom(record), nil
}

func (u *UsageTracker) load(ctx context.Context, day string) (*usageRecord, error) {
	record := &usageRecord{Date: day}
	if _, err := kv.GetJSON(ctx, u.store, UsageKey(day), record); err != nil {
		return nil, fmt.Errorf("failed to load usage for %s: %w", day, err)
	}
	record.Date = day
	return record, nil
}

func (u *UsageTracker) usageFrom(record *usageRecord) *Usage {
	return &Usage{
		Date:      record.Date,
		CallsUsed: record.CallsUsed,
		Limit:     u.limit,
		Remaining: max(0, u.limit-record.CallsUsed),
		LastCall:  record.LastCall,
	}
}
