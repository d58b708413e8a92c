package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"formgate/internal/metering/models"
)

// MemoryStore is the in-memory durable store used in tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]*models.UsageRecord
	cursors map[string]*models.SyncCursor
}

type recordKey struct {
	tenantID  string
	period    models.PeriodType
	periodKey string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]*models.UsageRecord),
		cursors: make(map[string]*models.SyncCursor),
	}
}

func (s *MemoryStore) GetRecord(_ context.Context, tenantID string, period models.PeriodType, periodKey string) (*models.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{tenantID, period, periodKey}]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) UpsertRecord(_ context.Context, rec models.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{rec.TenantID, rec.Period, rec.PeriodKey}
	if existing, ok := s.records[key]; ok {
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	cp := rec
	s.records[key] = &cp
	return nil
}

func (s *MemoryStore) AddDelta(_ context.Context, tenantID string, period models.PeriodType, periodKey string, start, end time.Time, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey{tenantID, period, periodKey}
	if existing, ok := s.records[key]; ok {
		existing.TotalCalls += delta
		existing.SyncedAt = time.Now().UTC()
		return nil
	}
	s.records[key] = &models.UsageRecord{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Period:     period,
		PeriodKey:  periodKey,
		StartDate:  start,
		EndDate:    end,
		TotalCalls: delta,
		SyncedAt:   time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) SumRange(_ context.Context, tenantID string, period models.PeriodType, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for key, rec := range s.records {
		if key.tenantID != tenantID || key.period != period {
			continue
		}
		if rec.StartDate.Before(from) || !rec.StartDate.Before(to) {
			continue
		}
		total += rec.TotalCalls
	}
	return total, nil
}

func (s *MemoryStore) LatestRecordEnd(_ context.Context, period models.PeriodType) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	found := false
	for key, rec := range s.records {
		if key.period != period {
			continue
		}
		if rec.EndDate.After(latest) {
			latest = rec.EndDate
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) GetCursor(_ context.Context, key string) (*models.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur, ok := s.cursors[key]
	if !ok {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, cur models.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur.UpdatedAt = time.Now().UTC()
	cp := cur
	s.cursors[cur.Key] = &cp
	return nil
}
