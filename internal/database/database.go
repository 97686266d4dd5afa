package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/models"
)

// NewDatabase opens the journal database and migrates its schema. DSNs
// starting with postgres:// or postgresql:// use Postgres, anything else is a
// sqlite file.
func NewDatabase(cfg *config.Database) (*gorm.DB, error) {
	db, err := gorm.Open(dialector(cfg.DSN), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// AutoMigrate creates or extends the journal tables. Existing rows are kept.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Execution{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}

// Journal appends executions and answers the UI's queries.
type Journal struct {
	db  *gorm.DB
	now func() time.Time
}

// NewJournal wraps db.
func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db, now: time.Now}
}

// Record appends one execution, stamping it when the timestamp is unset.
func (j *Journal) Record(ctx context.Context, exec models.Execution) error {
	if exec.Timestamp == 0 {
		exec.Timestamp = j.now().UnixMilli()
	}
	if err := j.db.WithContext(ctx).Create(&exec).Error; err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// Recent returns the latest executions, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]models.Execution, error) {
	var out []models.Execution
	q := j.db.WithContext(ctx).Order("timestamp desc").Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Stats summarizes executions.
type Stats struct {
	Total     int64            `json:"total"`
	Succeeded int64            `json:"succeeded"`
	Failed    int64            `json:"failed"`
	ByVenue   map[string]int64 `json:"by_venue"`
	ByAction  map[string]int64 `json:"by_action"`
}

// Stats aggregates executions recorded at or after since. A zero since
// covers everything.
func (j *Journal) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var rows []models.Execution
	q := j.db.WithContext(ctx).Select("venue", "action", "success")
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UnixMilli())
	}
	if err := q.Find(&rows).Error; err != nil {
		return Stats{}, err
	}

	s := Stats{ByVenue: map[string]int64{}, ByAction: map[string]int64{}}
	for _, r := range rows {
		s.Total++
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.ByVenue[r.Venue]++
		s.ByAction[r.Action]++
	}
	return s, nil
}
