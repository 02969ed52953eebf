package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// NightRepository handles per-night output records.
type NightRepository interface {
	// UpsertOutput writes the artifacts and count for output.Date, keeping the hidden flag.
	UpsertOutput(ctx context.Context, output *NightOutput) error
	GetOutput(ctx context.Context, date string) (*NightOutput, error)
	ClearConcatVideo(ctx context.Context, date string) error
	// ListNights returns all nights, newest first.
	ListNights(ctx context.Context) ([]NightOutput, error)
	ListVisibleNights(ctx context.Context) ([]NightOutput, error)
	SetHidden(ctx context.Context, date string, hidden bool) error
	ToggleHidden(ctx context.Context, date string) (*NightOutput, error)
	CountHidden(ctx context.Context) (int, error)
}

// nightRepository implements NightRepository.
type nightRepository struct {
	db      *gorm.DB
	isMySQL bool
}

// NewNightRepository creates a new NightRepository.
func NewNightRepository(db *gorm.DB, isMySQL bool) NightRepository {
	return &nightRepository{db: db, isMySQL: isMySQL}
}

func (r *nightRepository) UpsertOutput(ctx context.Context, output *NightOutput) error {
	row := NightOutput{
		Date:           output.Date,
		CompositeImage: output.CompositeImage,
		ConcatVideo:    output.ConcatVideo,
		DetectionCount: output.DetectionCount,
		Hidden:         output.Hidden,
		LastUpdatedAt:  time.Now(),
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date_str"}},
			DoUpdates: clause.AssignmentColumns([]string{"composite_image", "concat_video", "detection_count", "last_updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return dbError(err, "upsert_night_output", "date", output.Date)
	}
	return nil
}

func (r *nightRepository) GetOutput(ctx context.Context, date string) (*NightOutput, error) {
	var out NightOutput
	err := r.db.WithContext(ctx).Where("date_str = ?", date).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(ErrNightNotFound, "get_night_output", "date", date)
	}
	if err != nil {
		return nil, dbError(err, "get_night_output", "date", date)
	}
	return &out, nil
}

func (r *nightRepository) ClearConcatVideo(ctx context.Context, date string) error {
	err := r.db.WithContext(ctx).Model(&NightOutput{}).Where("date_str = ?", date).Update("concat_video", "").Error
	if err != nil {
		return dbError(err, "clear_concat_video", "date", date)
	}
	return nil
}

func (r *nightRepository) ListNights(ctx context.Context) ([]NightOutput, error) {
	var nights []NightOutput
	if err := r.db.WithContext(ctx).Order("date_str DESC").Find(&nights).Error; err != nil {
		return nil, dbError(err, "list_nights")
	}
	return nights, nil
}

func (r *nightRepository) ListVisibleNights(ctx context.Context) ([]NightOutput, error) {
	var nights []NightOutput
	if err := r.db.WithContext(ctx).Where("hidden = ?", false).Order("date_str DESC").Find(&nights).Error; err != nil {
		return nil, dbError(err, "list_visible_nights")
	}
	return nights, nil
}

func (r *nightRepository) SetHidden(ctx context.Context, date string, hidden bool) error {
	result := r.db.WithContext(ctx).Model(&NightOutput{}).Where("date_str = ?", date).Update("hidden", hidden)
	if result.Error != nil {
		return dbError(result.Error, "set_night_hidden", "date", date)
	}
	if result.RowsAffected == 0 {
		return notFoundError(ErrNightNotFound, "set_night_hidden", "date", date)
	}
	return nil
}

func (r *nightRepository) ToggleHidden(ctx context.Context, date string) (*NightOutput, error) {
	out, err := r.GetOutput(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := r.SetHidden(ctx, date, !out.Hidden); err != nil {
		return nil, err
	}
	out.Hidden = !out.Hidden
	return out, nil
}

func (r *nightRepository) CountHidden(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&NightOutput{}).Where("hidden = ?", true).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_hidden_nights")
	}
	return int(count), nil
}
