package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/weft-ai/weft/handoff"
)

// MemoryAuditStore keeps handoff audit records in memory, append order.
// Suitable for tests and short-lived runs.
type MemoryAuditStore struct {
	mu   sync.Mutex
	recs []*handoff.AuditRecord
}

// NewMemoryAuditStore creates a new in-memory audit store
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Append stores one audit record
func (s *MemoryAuditStore) Append(ctx context.Context, rec *handoff.AuditRecord) error {
	if rec == nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.recs = append(s.recs, &clone)
	return nil
}

// Records returns a copy of all stored records in append order
func (s *MemoryAuditStore) Records() []*handoff.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*handoff.AuditRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

var _ handoff.AuditSink = (*MemoryAuditStore)(nil)

// auditRow is the database row for one audit record
type auditRow struct {
	ID           string    `gorm:"primaryKey"`
	RequestID    string    `gorm:"index"`
	Kind         string    `gorm:"index"`
	SenderID     string    `gorm:"index"`
	ReceiverID   string    `gorm:"index"`
	Status       string `gorm:"index"`
	Error        string
	PayloadBytes int
	StartedAt    time.Time
	CompletedAt  time.Time `gorm:"index"`
	DurationMs   int64
}

func (auditRow) TableName() string { return "handoff_audit" }

// SQLiteAuditStore persists handoff audit records to a SQLite database.
// Suitable for single-node deployments that need a durable, queryable
// handoff history.
type SQLiteAuditStore struct {
	db *gorm.DB
}

// NewSQLiteAuditStore opens (or creates) a SQLite database at path and
// migrates the audit table. Use ":memory:" for an ephemeral store.
func NewSQLiteAuditStore(path string) (*SQLiteAuditStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.AutoMigrate(&auditRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit table: %w", err)
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Close closes the underlying database
func (s *SQLiteAuditStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy
func (s *SQLiteAuditStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Append stores one audit record
func (s *SQLiteAuditStore) Append(ctx context.Context, rec *handoff.AuditRecord) error {
	if rec == nil {
		return ErrInvalidInput
	}
	row := &auditRow{
		ID:           rec.ID,
		RequestID:    rec.RequestID,
		Kind:         string(rec.Kind),
		SenderID:     rec.SenderID,
		ReceiverID:   rec.ReceiverID,
		Status:       string(rec.Status),
		Error:        rec.Error,
		PayloadBytes: rec.PayloadBytes,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
		DurationMs:   rec.DurationMs,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// Recent returns up to limit records, newest first
func (s *SQLiteAuditStore) Recent(ctx context.Context, limit int) ([]*handoff.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []auditRow
	err := s.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]*handoff.AuditRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, &handoff.AuditRecord{
			ID:           row.ID,
			RequestID:    row.RequestID,
			Kind:         handoff.Kind(row.Kind),
			SenderID:     row.SenderID,
			ReceiverID:   row.ReceiverID,
			Status:       handoff.Status(row.Status),
			Error:        row.Error,
			PayloadBytes: row.PayloadBytes,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			DurationMs:   row.DurationMs,
		})
	}
	return out, nil
}

// Cleanup deletes records whose handoff completed before the cutoff and
// returns how many were removed.
func (s *SQLiteAuditStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("completed_at < ?", cutoff).
		Delete(&auditRow{})
	return res.RowsAffected, res.Error
}

// CountByStatus returns how many stored records carry each terminal status
func (s *SQLiteAuditStore) CountByStatus(ctx context.Context) (map[handoff.Status]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&auditRow{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&counts).Error
	if err != nil {
		return nil, err
	}

	out := make(map[handoff.Status]int64, len(counts))
	for _, c := range counts {
		out[handoff.Status(c.Status)] = c.Count
	}
	return out, nil
}

var _ handoff.AuditSink = (*SQLiteAuditStore)(nil)
