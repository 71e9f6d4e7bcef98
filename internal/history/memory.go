// internal/history/memory.go
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cron-engine/internal/domain"
	"cron-engine/internal/metrics"

	"golang.org/x/time/rate"
)

// DefaultRetention is how many records stay in memory unless configured otherwise.
const DefaultRetention = 100

const archiveBuffer = 256

// Store is the in-memory execution history: a fixed-size ring of the most
// recent records plus counters over everything ever appended. When an archive
// is attached, every record is also handed to it in the background.
type Store struct {
	mu        sync.RWMutex
	ring      []domain.ExecutionRecord
	head      int // index of the oldest record
	size      int
	total     int64
	byStatus  map[domain.JobStatus]int64
	byTrigger map[string]int64

	archive   domain.ExecutionArchive
	archiveCh chan domain.ExecutionRecord
	dropWarn  rate.Sometimes

	logger *slog.Logger
}

func NewStore(retention int, archive domain.ExecutionArchive, logger *slog.Logger) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{
		ring:      make([]domain.ExecutionRecord, retention),
		byStatus:  make(map[domain.JobStatus]int64),
		byTrigger: make(map[string]int64),
		archive:   archive,
		dropWarn:  rate.Sometimes{First: 1, Interval: 30 * time.Second},
		logger:    logger.With("component", "execution-history"),
	}
	if archive != nil {
		s.archiveCh = make(chan domain.ExecutionRecord, archiveBuffer)
	}
	return s
}

// Append stores a record, evicting the oldest once retention is reached.
func (s *Store) Append(record domain.ExecutionRecord) {
	s.mu.Lock()
	capacity := len(s.ring)
	if s.size < capacity {
		s.ring[(s.head+s.size)%capacity] = record
		s.size++
	} else {
		s.ring[s.head] = record
		s.head = (s.head + 1) % capacity
	}
	s.total++
	s.byStatus[record.Status]++
	if record.TriggerID != "" {
		s.byTrigger[record.TriggerID]++
	}
	s.mu.Unlock()

	metrics.HistoryRecordsTotal.Inc()

	if s.archiveCh != nil {
		select {
		case s.archiveCh <- record:
		default:
			s.dropWarn.Do(func() {
				s.logger.Warn("archive queue full, record kept in memory only", "record_id", record.ID)
			})
		}
	}
}

// Recent returns up to n retained records, most recent last.
func (s *Store) Recent(n int) []domain.ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || s.size == 0 {
		return []domain.ExecutionRecord{}
	}
	if n > s.size {
		n = s.size
	}
	out := make([]domain.ExecutionRecord, 0, n)
	for i := s.size - n; i < s.size; i++ {
		out = append(out, s.ring[(s.head+i)%len(s.ring)])
	}
	return out
}

func (s *Store) TotalCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// CountByStatus counts every record ever appended with the given status.
func (s *Store) CountByStatus(status domain.JobStatus) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byStatus[status]
}

// TriggerCount counts every record ever appended for one trigger.
func (s *Store) TriggerCount(triggerID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byTrigger[triggerID]
}

// Retention is the in-memory bound.
func (s *Store) Retention() int { return len(s.ring) }

// ListByTrigger pages through one trigger's records, newest first. The archive
// answers when attached; otherwise only retained records are searched.
func (s *Store) ListByTrigger(ctx context.Context, triggerID string, page, pageSize int) ([]domain.ExecutionRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if s.archive != nil {
		return s.archive.ListByTrigger(ctx, triggerID, page, pageSize)
	}

	s.mu.RLock()
	var matched []domain.ExecutionRecord
	for i := s.size - 1; i >= 0; i-- {
		rec := s.ring[(s.head+i)%len(s.ring)]
		if rec.TriggerID == triggerID {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	start := (page - 1) * pageSize
	if start >= len(matched) {
		return []domain.ExecutionRecord{}, nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end], nil
}

// Run drains the archive queue until ctx is done. It returns immediately
// when no archive is attached.
func (s *Store) Run(ctx context.Context) error {
	if s.archiveCh == nil {
		return nil
	}
	s.logger.Info("history archiver started")
	for {
		select {
		case <-ctx.Done():
			s.flush()
			s.logger.Info("history archiver stopped")
			return nil
		case rec := <-s.archiveCh:
			s.save(ctx, rec)
		}
	}
}

func (s *Store) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-s.archiveCh:
			s.save(ctx, rec)
		default:
			return
		}
	}
}

func (s *Store) save(ctx context.Context, rec domain.ExecutionRecord) {
	if err := s.archive.Save(ctx, rec); err != nil {
		s.logger.Error("failed to archive execution record", "record_id", rec.ID, "error", err)
	}
}
