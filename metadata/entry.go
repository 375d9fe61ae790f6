package metadata

import "time"

// DefaultTTL is applied to entries stored without an explicit TTL.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is the metadata record for a single cached object. One Entry is
// persisted per object inside the metadata document and carries everything
// needed to validate, expire and account for the backing file.
type Entry struct {
	ID           string    `json:"id"`
	FileName     string    `json:"file_name"`
	Size         int64     `json:"size"`
	OriginalSize int64     `json:"original_size"`
	Checksum     string    `json:"checksum,omitempty"`
	Compressed   bool      `json:"compressed,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  uint32    `json:"access_count"`
	TTLMillis    int64     `json:"ttl_ms"`
}

// TTL returns the entry's time-to-live as a duration.
func (e *Entry) TTL() time.Duration {
	return time.Duration(e.TTLMillis) * time.Millisecond
}

// ExpiresAt returns the instant the entry expires. Expiry is measured from
// creation time only; access recency never extends an entry's life.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL())
}

// Expired reports whether the entry has outlived its TTL at the given
// instant. Entries without a positive TTL never expire.
func (e *Entry) Expired(now time.Time) bool {
	if e.TTLMillis <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > e.TTL()
}

// Stats is the aggregate accounting block persisted alongside the entry
// map. EntryCount and TotalBytes are maintained incrementally as entries
// are published and removed, never recomputed by a full scan on the hot
// path.
type Stats struct {
	EntryCount    int64   `json:"entry_count"`
	TotalBytes    int64   `json:"total_bytes"`
	HitCount      int64   `json:"hit_count"`
	MissCount     int64   `json:"miss_count"`
	HitRate       float64 `json:"hit_rate"`
	AvgLoadTimeMs float64 `json:"avg_load_time_ms"`
}

func (s *Stats) observeLookup(hit bool) {
	if hit {
		s.HitCount++
	} else {
		s.MissCount++
	}
	if total := s.HitCount + s.MissCount; total > 0 {
		s.HitRate = float64(s.HitCount) / float64(total)
	}
}

// observeLoadTime folds a load duration into the running average using the
// halving scheme avg = (avg + sample) / 2, which weights recent loads
// heavily without keeping a sample history.
func (s *Stats) observeLoadTime(d time.Duration) {
	s.AvgLoadTimeMs = (s.AvgLoadTimeMs + d.Seconds()*1000) / 2
}
