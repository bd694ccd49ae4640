package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Record is one stored value in the solver_records table
type Record struct {
	Namespace string    `gorm:"primaryKey;size:32"`
	Key       string    `gorm:"primaryKey;size:160"`
	Value     string    `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"index"`
}

// TableName specifies the table name
func (Record) TableName() string {
	return "solver_records"
}

// GormStore persists records in postgres through gorm
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore connects to postgres and migrates the records table
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return NewGormStoreWithDB(db)
}

// NewGormStoreWithDB wraps an existing gorm handle
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate solver_records: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Exists(ctx context.Context, namespace, key string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&Record{}).
		Where("namespace = ? AND key = ?", namespace, key).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (g *GormStore) Get(ctx context.Context, namespace, key string, out any) error {
	var record Record
	err := g.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(record.Value), out); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (g *GormStore) Set(ctx context.Context, namespace, key string, value any) error {
	record, err := newRecord(namespace, key, value)
	if err != nil {
		return err
	}
	return g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(record).Error
}

func (g *GormStore) SetIfAbsent(ctx context.Context, namespace, key string, value any) (bool, error) {
	record, err := newRecord(namespace, key, value)
	if err != nil {
		return false, err
	}
	result := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (g *GormStore) Delete(ctx context.Context, namespace, key string) error {
	return g.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		Delete(&Record{}).Error
}

func (g *GormStore) List(ctx context.Context, namespace string, filter Filter) ([][]byte, error) {
	var records []Record
	err := g.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Order("key").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(records))
	for _, r := range records {
		raw := []byte(r.Value)
		if filter != nil && !filter(r.Key, raw) {
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newRecord(namespace, key string, value any) (*Record, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s/%s: %w", namespace, key, err)
	}
	return &Record{
		Namespace: namespace,
		Key:       key,
		Value:     string(raw),
		UpdatedAt: time.Now(),
	}, nil
}
