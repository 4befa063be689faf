package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	glog "github.com/google/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"giveaway/internal/models"
)

// DefaultIncrement is the amount AddChance callers use when they have no
// specific value in mind.
const DefaultIncrement = 1

const (
	defaultBusyTimeout = 5 * time.Second
	defaultOpTimeout   = 5 * time.Second
)

// ChanceStore is the durable user -> chance mapping for the active giveaway.
// Every method is its own short transaction.
type ChanceStore struct {
	db          *gorm.DB
	path        string
	busyTimeout time.Duration
	opTimeout   time.Duration
	logLevel    logger.LogLevel
}

// Option configures a ChanceStore at Open time.
type Option func(*ChanceStore)

// WithBusyTimeout bounds how long a statement waits on a sqlite lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *ChanceStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// WithOpTimeout bounds every store operation, including waits for a pooled connection.
func WithOpTimeout(d time.Duration) Option {
	return func(s *ChanceStore) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithVerbose makes gorm log every statement.
func WithVerbose(verbose bool) Option {
	return func(s *ChanceStore) {
		if verbose {
			s.logLevel = logger.Info
		}
	}
}

// gormWriter routes gorm's log output through google/logger.
type gormWriter struct{}

func (gormWriter) Printf(format string, v ...interface{}) {
	glog.Infof(format, v...)
}

// Open opens (creating if absent) the sqlite file at path and migrates the schema.
func Open(path string, opts ...Option) (*ChanceStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("chance store: database path is required")
	}

	s := &ChanceStore{
		path:        filepath.Clean(path),
		busyTimeout: defaultBusyTimeout,
		opTimeout:   defaultOpTimeout,
		logLevel:    logger.Silent,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, wrap("open", err)
	}

	gormLogger := logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  s.logLevel,
		IgnoreRecordNotFoundError: true,
	})

	// _txlock=immediate takes the write lock at BEGIN so that busy_timeout
	// applies to it instead of failing on a lock upgrade.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate",
		s.path, s.busyTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, wrap("open", err)
	}
	s.db = db

	if err := db.AutoMigrate(&models.ChanceRecord{}); err != nil {
		_ = s.Close()
		return nil, wrap("migrate", err)
	}

	glog.Infof("chance store opened at %s", s.path)
	return s, nil
}

// Path returns the sqlite file backing the store.
func (s *ChanceStore) Path() string {
	return s.path
}

// Close releases the underlying connection pool.
func (s *ChanceStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrap("close", err)
	}
	return wrap("close", sqlDB.Close())
}

// run executes fn against a context-bound session limited by the op timeout.
func (s *ChanceStore) run(ctx context.Context, op string, fn func(db *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return wrap(op, errors.New("store is not open"))
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	return wrap(op, fn(s.db.WithContext(ctx)))
}

// AddChance adds value to the user's chance, creating the record with
// chance = value when absent. The read-modify-write is a single upsert, so
// concurrent calls never lose increments.
func (s *ChanceStore) AddChance(ctx context.Context, userID, value int64) error {
	return s.run(ctx, "add chance", func(db *gorm.DB) error {
		record := models.ChanceRecord{UserID: userID, Chance: value}
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"chance": gorm.Expr("chance + excluded.chance"),
			}),
		}).Create(&record).Error
	})
}

// SetChance overwrites the user's chance, creating the record when absent.
func (s *ChanceStore) SetChance(ctx context.Context, userID, value int64) error {
	return s.run(ctx, "set chance", func(db *gorm.DB) error {
		record := models.ChanceRecord{UserID: userID, Chance: value}
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"chance"}),
		}).Create(&record).Error
	})
}

// RemoveUser deletes the user's record. Removing an unknown user is a no-op.
func (s *ChanceStore) RemoveUser(ctx context.Context, userID int64) error {
	return s.run(ctx, "remove user", func(db *gorm.DB) error {
		return db.Where("user_id = ?", userID).Delete(&models.ChanceRecord{}).Error
	})
}

// Clear deletes every record.
func (s *ChanceStore) Clear(ctx context.Context) error {
	return s.run(ctx, "clear", func(db *gorm.DB) error {
		return db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ChanceRecord{}).Error
	})
}

// GetAll returns a copy of every record as user id -> chance. The rows come
// from a single SELECT and therefore from one point-in-time view.
func (s *ChanceStore) GetAll(ctx context.Context) (map[int64]int64, error) {
	var records []models.ChanceRecord
	err := s.run(ctx, "get all", func(db *gorm.DB) error {
		return db.Select("user_id", "chance").Find(&records).Error
	})
	if err != nil {
		return nil, err
	}

	snapshot := make(map[int64]int64, len(records))
	for _, r := range records {
		snapshot[r.UserID] = r.Chance
	}
	return snapshot, nil
}

// Chance returns a single user's chance; ok is false when the user has no record.
func (s *ChanceStore) Chance(ctx context.Context, userID int64) (chance int64, ok bool, err error) {
	var records []models.ChanceRecord
	err = s.run(ctx, "get chance", func(db *gorm.DB) error {
		return db.Where("user_id = ?", userID).Limit(1).Find(&records).Error
	})
	if err != nil || len(records) == 0 {
		return 0, false, err
	}
	return records[0].Chance, true, nil
}
