package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process warehouse used for dry runs and tests.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]StoredRecord
	sessions  map[string]Session
	summaries map[string]StoredSummary
	now       func() time.Time
}

// NewMemory returns an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]StoredRecord),
		sessions:  make(map[string]Session),
		summaries: make(map[string]StoredSummary),
		now:       time.Now,
	}
}

func (m *Memory) InsertRecords(ctx context.Context, records []StoredRecord) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if prev, ok := m.records[r.RecordID]; ok {
			r.CreatedAt = prev.CreatedAt
		} else if r.CreatedAt.IsZero() {
			r.CreatedAt = m.now().UTC()
		}
		m.records[r.RecordID] = r
	}
	return len(records), nil
}

func (m *Memory) InsertSession(ctx context.Context, s Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.MonitoringID]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSession, s.MonitoringID)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now().UTC()
	}
	m.sessions[s.MonitoringID] = s
	return s.MonitoringID, nil
}

func (m *Memory) InsertSummaries(ctx context.Context, summaries []StoredSummary) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range summaries {
		m.summaries[s.SummaryID] = s
	}
	return len(summaries), nil
}

func (m *Memory) QueryRecent(ctx context.Context, f RecordFilter) ([]StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []StoredRecord
	for _, r := range m.records {
		if f.Platform != "" && r.Platform != f.Platform {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && r.CheckedAt.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].CheckedAt.After(out[j].CheckedAt)
		}
		return out[i].RecordID < out[j].RecordID
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Session returns a stored session by id.
func (m *Memory) Session(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Summaries returns the summaries stored for a monitoring id, ordered by platform.
func (m *Memory) Summaries(monitoringID string) []StoredSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StoredSummary
	for _, s := range m.summaries {
		if s.MonitoringID == monitoringID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close() error { return nil }
