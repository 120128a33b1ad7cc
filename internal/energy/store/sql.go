package store

import (
	"context"
	"errors"
	"time"

	"github.com/clambin/radialight-monitor/internal/energy"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLStore keeps states in an SQLite database, one row per scope.
type SQLStore struct {
	db *gorm.DB
}

type energyState struct {
	Scope         string    `gorm:"primaryKey"`
	TotalKWh      float64   `gorm:"column:total_kwh;not null"`
	HighWaterMark time.Time `gorm:"column:high_water_mark;not null"`
	UpdatedAt     time.Time
}

func (energyState) TableName() string { return "energy_states" }

var _ Store = &SQLStore{}

func NewSQLStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, &PersistenceError{Kind: ReadFailed, Err: err}
	}
	if err = db.AutoMigrate(&energyState{}); err != nil {
		return nil, &PersistenceError{Kind: ReadFailed, Err: err}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Load(ctx context.Context, scope string) (energy.State, error) {
	var row energyState
	err := s.db.WithContext(ctx).Where("scope = ?", scope).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return energy.State{}, ErrNotFound
	}
	if err != nil {
		return energy.State{}, &PersistenceError{Kind: ReadFailed, Scope: scope, Err: err}
	}
	return energy.State{Total: row.TotalKWh, HighWaterMark: row.HighWaterMark.UTC()}, nil
}

func (s *SQLStore) Save(ctx context.Context, scope string, state energy.State) error {
	row := energyState{
		Scope:         scope,
		TotalKWh:      state.Total,
		HighWaterMark: state.HighWaterMark.UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_kwh", "high_water_mark", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return &PersistenceError{Kind: WriteFailed, Scope: scope, Err: err}
	}
	return nil
}

func (s *SQLStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
