package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// DetectionRepository handles per-group detection records.
type DetectionRepository interface {
	// SaveDetections upserts rows keyed on (clip id, group index).
	SaveDetections(ctx context.Context, clipID uint, detections []Detection) error
	GetDetection(ctx context.Context, id uint) (*Detection, error)
	ListByClip(ctx context.Context, clipID uint) ([]Detection, error)
	ListIncludedByClip(ctx context.Context, clipID uint) ([]Detection, error)
	ListExcludedByClip(ctx context.Context, clipID uint) ([]Detection, error)
	SetExcluded(ctx context.Context, id uint, excluded bool) error
	ToggleExcluded(ctx context.Context, id uint) (*Detection, error)
	SetAllExcluded(ctx context.Context, clipID uint, excluded bool) error
	// SetAllExcludedByDate updates every detection of the night's detected clips.
	SetAllExcludedByDate(ctx context.Context, date string, excluded bool) error
	DeleteByClip(ctx context.Context, clipID uint) error
}

// detectionRepository implements DetectionRepository.
type detectionRepository struct {
	db      *gorm.DB
	isMySQL bool
}

// NewDetectionRepository creates a new DetectionRepository.
func NewDetectionRepository(db *gorm.DB, isMySQL bool) DetectionRepository {
	return &detectionRepository{db: db, isMySQL: isMySQL}
}

func (r *detectionRepository) SaveDetections(ctx context.Context, clipID uint, detections []Detection) error {
	if len(detections) == 0 {
		return nil
	}

	rows := make([]Detection, len(detections))
	for i := range detections {
		rows[i] = detections[i]
		rows[i].ID = 0
		rows[i].ClipID = clipID
		rows[i].Clip = nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "clip_id"}, {Name: "line_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"x1", "y1", "x2", "y2", "crop_image"}),
		}).
		Create(&rows).Error
	if err != nil {
		return dbError(err, "save_detections", "clip_id", clipID, "count", len(rows))
	}
	return nil
}

func (r *detectionRepository) GetDetection(ctx context.Context, id uint) (*Detection, error) {
	var det Detection
	err := r.db.WithContext(ctx).First(&det, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(ErrDetectionNotFound, "get_detection", "id", id)
	}
	if err != nil {
		return nil, dbError(err, "get_detection", "id", id)
	}
	return &det, nil
}

func (r *detectionRepository) list(ctx context.Context, operation string, query any, args ...any) ([]Detection, error) {
	var dets []Detection
	if err := r.db.WithContext(ctx).Where(query, args...).Order("line_index").Find(&dets).Error; err != nil {
		return nil, dbError(err, operation)
	}
	return dets, nil
}

func (r *detectionRepository) ListByClip(ctx context.Context, clipID uint) ([]Detection, error) {
	return r.list(ctx, "list_detections", "clip_id = ?", clipID)
}

func (r *detectionRepository) ListIncludedByClip(ctx context.Context, clipID uint) ([]Detection, error) {
	return r.list(ctx, "list_included_detections", "clip_id = ? AND excluded = ?", clipID, false)
}

func (r *detectionRepository) ListExcludedByClip(ctx context.Context, clipID uint) ([]Detection, error) {
	return r.list(ctx, "list_excluded_detections", "clip_id = ? AND excluded = ?", clipID, true)
}

func (r *detectionRepository) SetExcluded(ctx context.Context, id uint, excluded bool) error {
	result := r.db.WithContext(ctx).Model(&Detection{}).Where("id = ?", id).Update("excluded", excluded)
	if result.Error != nil {
		return dbError(result.Error, "set_detection_excluded", "id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError(ErrDetectionNotFound, "set_detection_excluded", "id", id)
	}
	return nil
}

func (r *detectionRepository) ToggleExcluded(ctx context.Context, id uint) (*Detection, error) {
	det, err := r.GetDetection(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.SetExcluded(ctx, id, !det.Excluded); err != nil {
		return nil, err
	}
	det.Excluded = !det.Excluded
	return det, nil
}

func (r *detectionRepository) SetAllExcluded(ctx context.Context, clipID uint, excluded bool) error {
	err := r.db.WithContext(ctx).Model(&Detection{}).Where("clip_id = ?", clipID).Update("excluded", excluded).Error
	if err != nil {
		return dbError(err, "set_all_excluded", "clip_id", clipID)
	}
	return nil
}

func (r *detectionRepository) SetAllExcludedByDate(ctx context.Context, date string, excluded bool) error {
	db := r.db.WithContext(ctx)
	clipIDs := db.Model(&Clip{}).Select("id").Where("date_str = ? AND status = ?", date, StatusDetected)
	err := db.Model(&Detection{}).Where("clip_id IN (?)", clipIDs).Update("excluded", excluded).Error
	if err != nil {
		return dbError(err, "set_all_excluded_by_date", "date", date)
	}
	return nil
}

func (r *detectionRepository) DeleteByClip(ctx context.Context, clipID uint) error {
	if err := r.db.WithContext(ctx).Where("clip_id = ?", clipID).Delete(&Detection{}).Error; err != nil {
		return dbError(err, "delete_detections", "clip_id", clipID)
	}
	return nil
}
