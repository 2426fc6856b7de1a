package kvstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/neardns/neardns/pkg/mlog"
)

// Entry is one stored key/value pair.
type Entry struct {
	ID        int    `gorm:"primaryKey"`
	Namespace string `gorm:"uniqueIndex:idx_entry_ns_key;size:16"`
	Key       string `gorm:"column:entry_key;uniqueIndex:idx_entry_ns_key;size:255"`
	Value     string `gorm:"type:text"`
}

// UsageRow holds the storage account. The table has exactly one row.
type UsageRow struct {
	ID    int `gorm:"primaryKey"`
	Bytes uint64
}

func (Entry) TableName() string {
	return "kv_entries"
}

func (UsageRow) TableName() string {
	return "kv_usage"
}

const usageRowID = 1

// SQL is a Backend on top of gorm. Each mutation and its usage adjustment
// commit in one transaction.
type SQL struct {
	db       *gorm.DB
	logger   *zap.Logger
	overhead uint64
}

var _ Backend = (*SQL)(nil)

// OpenSQL opens a sqlite or mysql database and migrates the schema.
// driver is "sqlite" or "mysql".
func OpenSQL(driver, dsn string, logger *zap.Logger) (*SQL, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, ErrUnsupportedType
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite has a single writer, and ":memory:" is private to one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	s, err := NewSQL(db, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an already opened gorm handle.
func NewSQL(db *gorm.DB, logger *zap.Logger) (*SQL, error) {
	if logger == nil {
		logger = mlog.Nop()
	}
	if err := db.AutoMigrate(&Entry{}, &UsageRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	var row UsageRow
	if err := db.Where(UsageRow{ID: usageRowID}).FirstOrCreate(&row).Error; err != nil {
		return nil, fmt.Errorf("init usage row: %w", err)
	}
	return &SQL{db: db, logger: logger, overhead: EntryOverhead}, nil
}

func (s *SQL) find(tx *gorm.DB, ns, key string) (*Entry, error) {
	var entries []Entry
	result := tx.Where("namespace = ? AND entry_key = ?", ns, key).Limit(1).Find(&entries)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (s *SQL) Get(ctx context.Context, ns, key string) (string, bool, error) {
	e, err := s.find(s.db.WithContext(ctx), ns, key)
	if err != nil {
		s.logger.Error("db error", zap.Error(err))
		return "", false, err
	}
	if e == nil {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *SQL) Insert(ctx context.Context, ns, key, value string) (bool, error) {
	var replaced bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := s.find(tx, ns, key)
		if err != nil {
			return err
		}
		if old != nil {
			replaced = true
			if err := tx.Model(old).Update("value", value).Error; err != nil {
				return err
			}
			return adjustUsage(tx, EntrySize(ns, key, old.Value, s.overhead), EntrySize(ns, key, value, s.overhead))
		}
		if err := tx.Create(&Entry{Namespace: ns, Key: key, Value: value}).Error; err != nil {
			return err
		}
		return adjustUsage(tx, 0, EntrySize(ns, key, value, s.overhead))
	})
	if err != nil {
		s.logger.Error("insert record failed", zap.String("namespace", ns), zap.Error(err))
		return false, fmt.Errorf("insert: %w", err)
	}
	return replaced, nil
}

func (s *SQL) Remove(ctx context.Context, ns, key string) (bool, error) {
	var removed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, err := s.find(tx, ns, key)
		if err != nil || old == nil {
			return err
		}
		if err := tx.Delete(old).Error; err != nil {
			return err
		}
		removed = true
		return adjustUsage(tx, EntrySize(ns, key, old.Value, s.overhead), 0)
	})
	if err != nil {
		s.logger.Error("delete record failed", zap.String("namespace", ns), zap.Error(err))
		return false, fmt.Errorf("remove: %w", err)
	}
	return removed, nil
}

// adjustUsage moves the account from oldSize to newSize without ever
// producing a negative intermediate value.
func adjustUsage(tx *gorm.DB, oldSize, newSize uint64) error {
	q := tx.Model(&UsageRow{}).Where("id = ?", usageRowID)
	switch {
	case newSize > oldSize:
		return q.Update("bytes", gorm.Expr("bytes + ?", newSize-oldSize)).Error
	case newSize < oldSize:
		return q.Update("bytes", gorm.Expr("bytes - ?", oldSize-newSize)).Error
	}
	return nil
}

func (s *SQL) Usage(ctx context.Context) (uint64, error) {
	var row UsageRow
	if err := s.db.WithContext(ctx).Where("id = ?", usageRowID).Take(&row).Error; err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return row.Bytes, nil
}

func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
