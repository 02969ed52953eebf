package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// SettingsRepository is the key/value table for runtime overrides.
type SettingsRepository interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) (map[string]string, error)
	SetMany(ctx context.Context, values map[string]string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// settingsRepository implements SettingsRepository.
type settingsRepository struct {
	db      *gorm.DB
	isMySQL bool
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *gorm.DB, isMySQL bool) SettingsRepository {
	return &settingsRepository{db: db, isMySQL: isMySQL}
}

func (r *settingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var s Setting
	err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbError(err, "get_setting", "key", key)
	}
	return s.Value, true, nil
}

func upsertSetting(db *gorm.DB, key, value string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Key: key, Value: value, UpdatedAt: time.Now()}).Error
}

func (r *settingsRepository) Set(ctx context.Context, key, value string) error {
	if err := upsertSetting(r.db.WithContext(ctx), key, value); err != nil {
		return dbError(err, "set_setting", "key", key)
	}
	return nil
}

func (r *settingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	var rows []Setting
	if err := r.db.WithContext(ctx).Order("`key`").Find(&rows).Error; err != nil {
		return nil, dbError(err, "get_all_settings")
	}
	out := make(map[string]string, len(rows))
	for _, s := range rows {
		out[s.Key] = s.Value
	}
	return out, nil
}

func (r *settingsRepository) SetMany(ctx context.Context, values map[string]string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			if err := upsertSetting(tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return dbError(err, "set_many_settings", "count", len(values))
	}
	return nil
}

func (r *settingsRepository) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	result := r.db.WithContext(ctx).Where("`key` LIKE ?", prefix+"%").Delete(&Setting{})
	if result.Error != nil {
		return 0, dbError(result.Error, "delete_settings_by_prefix", "prefix", prefix)
	}
	return result.RowsAffected, nil
}
