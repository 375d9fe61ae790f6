package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryExpired(t *testing.T) {
	created := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ttl     int64
		now     time.Time
		expired bool
	}{
		{
			name:    "fresh entry",
			ttl:     (24 * time.Hour).Milliseconds(),
			now:     created.Add(time.Hour),
			expired: false,
		},
		{
			name:    "exactly at the boundary",
			ttl:     (24 * time.Hour).Milliseconds(),
			now:     created.Add(24 * time.Hour),
			expired: false,
		},
		{
			name:    "past the boundary",
			ttl:     (24 * time.Hour).Milliseconds(),
			now:     created.Add(24*time.Hour + time.Millisecond),
			expired: true,
		},
		{
			name:    "zero TTL never expires",
			ttl:     0,
			now:     created.Add(1000 * 24 * time.Hour),
			expired: false,
		},
		{
			name:    "negative TTL never expires",
			ttl:     -1,
			now:     created.Add(1000 * 24 * time.Hour),
			expired: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry{CreatedAt: created, TTLMillis: tt.ttl}
			assert.Equal(t, tt.expired, e.Expired(tt.now))
		})
	}
}

func TestEntryExpiresAt(t *testing.T) {
	created := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	e := Entry{CreatedAt: created, TTLMillis: (30 * 24 * time.Hour).Milliseconds()}

	require.Equal(t, created.Add(30*24*time.Hour), e.ExpiresAt())
}

func TestStatsObserveLookup(t *testing.T) {
	var s Stats

	s.observeLookup(true)
	s.observeLookup(true)
	s.observeLookup(true)
	s.observeLookup(false)

	assert.Equal(t, int64(3), s.HitCount)
	assert.Equal(t, int64(1), s.MissCount)
	assert.InDelta(t, 0.75, s.HitRate, 0.0001)
}

func TestStatsObserveLoadTime(t *testing.T) {
	var s Stats

	// Halving scheme: each observation averages with the previous value.
	s.observeLoadTime(100 * time.Millisecond)
	assert.InDelta(t, 50.0, s.AvgLoadTimeMs, 0.0001)

	s.observeLoadTime(100 * time.Millisecond)
	assert.InDelta(t, 75.0, s.AvgLoadTimeMs, 0.0001)
}
