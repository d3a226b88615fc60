// Package repository owns the normalized store: per-entity repositories over
// database/sql, batched write paths, statistics, and the query monitor.
package repository

import (
	"database/sql"
	"encoding/json"
	"time"
)

// timeLayout is fixed-width UTC so stored values sort lexicographically,
// which the keyset cursor relies on.
const timeLayout = "2006-01-02 15:04:05.000"

var scanLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	for _, layout := range scanLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// marshalList serializes an ordered string list, dropping duplicates while
// preserving first-seen order. Empty lists store as NULL.
func marshalList(list []string) interface{} {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return string(data)
}

// unmarshalList reads a JSON array column, tolerating legacy rows that hold
// a bare comma-separated string instead of JSON.
func unmarshalList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err == nil {
		return out
	}
	// Legacy text column: split on commas and dedupe.
	var legacy []string
	seen := map[string]bool{}
	for _, part := range splitTrim(ns.String) {
		if part != "" && !seen[part] {
			seen[part] = true
			legacy = append(legacy, part)
		}
	}
	return legacy
}

func splitTrim(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			part := s[start:i]
			for len(part) > 0 && (part[0] == ' ' || part[0] == '"' || part[0] == '[') {
				part = part[1:]
			}
			for len(part) > 0 && (part[len(part)-1] == ' ' || part[len(part)-1] == '"' || part[len(part)-1] == ']') {
				part = part[:len(part)-1]
			}
			out = append(out, part)
			start = i + 1
		}
	}
	return out
}

func nullStr(p *string) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
