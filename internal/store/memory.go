package store

import (
	"context"
	"sort"
	"sync"

	"advsandbox/internal/apperrors"
	"advsandbox/internal/attack"
)

// Memory is a mutex-guarded in-memory record store. Records are cloned
// on the way in and out so callers can never mutate stored state.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*attack.Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*attack.Record)}
}

func (m *Memory) Create(ctx context.Context, rec *attack.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return apperrors.Conflict("attack", rec.ID, "record already exists")
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*attack.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, apperrors.NotFound("attack", id)
	}
	return clone(rec), nil
}

func (m *Memory) Update(ctx context.Context, rec *attack.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return apperrors.NotFound("attack", rec.ID)
	}
	m.records[rec.ID] = clone(rec)
	return nil
}

func (m *Memory) List(ctx context.Context, q attack.ListQuery) (*attack.ListResult, error) {
	m.mu.RLock()
	matched := make([]*attack.Record, 0, len(m.records))
	for _, rec := range m.records {
		if matches(rec, q) {
			matched = append(matched, clone(rec))
		}
	}
	m.mu.RUnlock()

	sortBy := q.SortBy
	if !attack.SortFields[sortBy] {
		sortBy = "created_at"
	}
	asc := q.SortOrder == "asc"
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		c := compareBy(a, b, sortBy)
		if c == 0 {
			return a.ID < b.ID
		}
		if asc {
			return c < 0
		}
		return c > 0
	})

	total := len(matched)
	start := q.Skip
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}

	return &attack.ListResult{
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Skip,
		Records: matched[start:end],
	}, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func matches(rec *attack.Record, q attack.ListQuery) bool {
	if q.ModelID != "" && rec.ModelID != q.ModelID {
		return false
	}
	if q.AttackMethodID != "" && rec.AttackMethodID != q.AttackMethodID {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	if q.AttackSuccess != nil && rec.AttackSuccess != *q.AttackSuccess {
		return false
	}
	return true
}

// compareBy returns -1, 0 or 1 ordering a before, equal to, or after b
// on the given field.
func compareBy(a, b *attack.Record, field string) int {
	switch field {
	case "id":
		return compareStrings(a.ID, b.ID)
	case "model_id":
		return compareStrings(a.ModelID, b.ModelID)
	case "attack_method_id":
		return compareStrings(a.AttackMethodID, b.AttackMethodID)
	case "status":
		return compareStrings(a.Status, b.Status)
	case "attack_success":
		return compareBools(a.AttackSuccess, b.AttackSuccess)
	case "completed_at":
		switch {
		case a.CompletedAt == nil && b.CompletedAt == nil:
			return 0
		case a.CompletedAt == nil:
			return -1
		case b.CompletedAt == nil:
			return 1
		default:
			return a.CompletedAt.Compare(*b.CompletedAt)
		}
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func clone(rec *attack.Record) *attack.Record {
	dup := *rec
	if rec.PerturbationDetails != nil {
		dup.PerturbationDetails = make(map[string]any, len(rec.PerturbationDetails))
		for k, v := range rec.PerturbationDetails {
			dup.PerturbationDetails[k] = v
		}
	}
	if rec.Metrics != nil {
		dup.Metrics = make(map[string]any, len(rec.Metrics))
		for k, v := range rec.Metrics {
			dup.Metrics[k] = v
		}
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		dup.CompletedAt = &t
	}
	return &dup
}
