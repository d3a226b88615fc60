package repository

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// ringSize is the number of query samples retained for health aggregation.
const ringSize = 1000

type querySample struct {
	Name    string
	Elapsed time.Duration
	Success bool
	At      time.Time
}

// Monitor records per-query timings into a fixed ring buffer and derives
// database health aggregates from it.
type Monitor struct {
	mu            sync.Mutex
	samples       [ringSize]querySample
	next          int
	filled        bool
	slowThreshold time.Duration
}

func NewMonitor(slowThresholdMs int) *Monitor {
	if slowThresholdMs <= 0 {
		slowThresholdMs = 100
	}
	return &Monitor{slowThreshold: time.Duration(slowThresholdMs) * time.Millisecond}
}

// Record appends one sample. Safe to call on a nil monitor.
func (m *Monitor) Record(name string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples[m.next] = querySample{Name: name, Elapsed: time.Since(start), Success: err == nil, At: time.Now()}
	m.next = (m.next + 1) % ringSize
	if m.next == 0 {
		m.filled = true
	}
	m.mu.Unlock()
}

type WindowStats struct {
	Queries     int     `json:"queries"`
	SuccessRate float64 `json:"success_rate_percent"`
	SlowPercent float64 `json:"slow_percent"`
	P95Ms       float64 `json:"p95_ms"`
}

type SlowGroup struct {
	QueryHash string  `json:"query_hash"`
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	AvgMs     float64 `json:"avg_ms"`
}

type Health struct {
	SizeBytes     int64       `json:"db_size_bytes"`
	PageCount     int64       `json:"page_count"`
	Fragmentation float64     `json:"fragmentation_percent"`
	CacheHitRatio float64     `json:"cache_hit_ratio"`
	SlowQueries   int         `json:"slow_query_count"`
	SlowGroups    []SlowGroup `json:"slow_groups,omitempty"`
	LastHour      WindowStats `json:"last_hour"`
	Last24h       WindowStats `json:"last_24h"`
}

func (m *Monitor) snapshot() []querySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	if m.filled {
		n = ringSize
	}
	out := make([]querySample, n)
	if m.filled {
		copy(out, m.samples[m.next:])
		copy(out[ringSize-m.next:], m.samples[:m.next])
	} else {
		copy(out, m.samples[:n])
	}
	return out
}

func (m *Monitor) window(samples []querySample, since time.Time) WindowStats {
	var elapsed []float64
	ok, slow := 0, 0
	for _, s := range samples {
		if s.At.Before(since) {
			continue
		}
		elapsed = append(elapsed, float64(s.Elapsed)/float64(time.Millisecond))
		if s.Success {
			ok++
		}
		if s.Elapsed >= m.slowThreshold {
			slow++
		}
	}
	st := WindowStats{Queries: len(elapsed)}
	if len(elapsed) == 0 {
		return st
	}
	st.SuccessRate = 100 * float64(ok) / float64(len(elapsed))
	st.SlowPercent = 100 * float64(slow) / float64(len(elapsed))
	sort.Float64s(elapsed)
	idx := int(0.95 * float64(len(elapsed)-1))
	st.P95Ms = elapsed[idx]
	return st
}

// queryHash groups slow queries by a short hash of the normalized name.
func queryHash(name string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(name), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:4])
}

// Health combines ring-buffer aggregates with on-disk database statistics.
func (m *Monitor) Health(db *sql.DB) Health {
	var h Health
	if m == nil {
		return h
	}

	var pageCount, pageSize, freelist int64
	db.QueryRow(`PRAGMA page_count`).Scan(&pageCount)
	db.QueryRow(`PRAGMA page_size`).Scan(&pageSize)
	db.QueryRow(`PRAGMA freelist_count`).Scan(&freelist)
	h.PageCount = pageCount
	h.SizeBytes = pageCount * pageSize
	if pageCount > 0 {
		h.Fragmentation = 100 * float64(freelist) / float64(pageCount)
	}

	samples := m.snapshot()
	now := time.Now()
	h.LastHour = m.window(samples, now.Add(-time.Hour))
	h.Last24h = m.window(samples, now.Add(-24*time.Hour))

	groups := map[string]*SlowGroup{}
	totalSlowMs := float64(0)
	for _, s := range samples {
		if s.Elapsed < m.slowThreshold {
			continue
		}
		h.SlowQueries++
		ms := float64(s.Elapsed) / float64(time.Millisecond)
		totalSlowMs += ms
		key := queryHash(s.Name)
		g, ok := groups[key]
		if !ok {
			g = &SlowGroup{QueryHash: key, Name: s.Name}
			groups[key] = g
		}
		g.Count++
		g.AvgMs += ms
	}
	for _, g := range groups {
		g.AvgMs /= float64(g.Count)
		h.SlowGroups = append(h.SlowGroups, *g)
	}
	sort.Slice(h.SlowGroups, func(i, j int) bool { return h.SlowGroups[i].Count > h.SlowGroups[j].Count })

	// A rough hit-ratio estimate: queries under the slow threshold are
	// assumed to have been served from the page cache.
	if n := len(samples); n > 0 {
		h.CacheHitRatio = float64(n-h.SlowQueries) / float64(n)
	}
	return h
}
