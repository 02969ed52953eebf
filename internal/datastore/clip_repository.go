package datastore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// ClipRepository handles clip records.
type ClipRepository interface {
	// UpsertClip inserts the clip or refreshes an existing row with the same URL.
	// A stored terminal status is kept; the local path, date, hour and minute
	// are refreshed. The stored row is returned.
	UpsertClip(ctx context.Context, clip *Clip) (*Clip, error)
	GetClip(ctx context.Context, clipURL string) (*Clip, error)
	GetClipByID(ctx context.Context, id uint) (*Clip, error)
	GetClipByLocalPath(ctx context.Context, localPath string) (*Clip, error)
	// UpdateClip writes the non-nil fields of update unconditionally.
	UpdateClip(ctx context.Context, clipURL string, update ClipUpdate) error
	// ListClipsByDate returns the night's clips with evening hours first.
	ListClipsByDate(ctx context.Context, date string) ([]Clip, error)
	ListDetectedClips(ctx context.Context, date string) ([]Clip, error)
	ListIncludedDetectedClips(ctx context.Context, date string) ([]Clip, error)
	CountDetectedClips(ctx context.Context, date string) (int, error)
	CountByStatus(ctx context.Context, date string) (map[ClipStatus]int, error)
	SetClipExcluded(ctx context.Context, id uint, excluded bool) error
	ToggleClipExcluded(ctx context.Context, id uint) (*Clip, error)
}

// clipRepository implements ClipRepository.
type clipRepository struct {
	db      *gorm.DB
	isMySQL bool // ON CONFLICT vs ON DUPLICATE KEY value references
}

// NewClipRepository creates a new ClipRepository.
func NewClipRepository(db *gorm.DB, isMySQL bool) ClipRepository {
	return &clipRepository{db: db, isMySQL: isMySQL}
}

// nightOrder sorts evening hours before the early morning hours of the same night
const nightOrder = "CASE WHEN hour >= 12 THEN 0 ELSE 1 END, hour, minute"

// insertedValue references the value proposed by the conflicting insert
func insertedValue(isMySQL bool, column string) string {
	if isMySQL {
		return "VALUES(" + column + ")"
	}
	return "excluded." + column
}

func (r *clipRepository) UpsertClip(ctx context.Context, clip *Clip) (*Clip, error) {
	if clip.Status == "" {
		clip.Status = StatusPending
	}
	if !clip.Status.Valid() {
		return nil, errors.New(ErrInvalidStatus).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("status", string(clip.Status)).
			Build()
	}

	row := Clip{
		ClipURL:   clip.ClipURL,
		Date:      clip.Date,
		Hour:      clip.Hour,
		Minute:    clip.Minute,
		LocalPath: clip.LocalPath,
		Status:    clip.Status,
	}

	// status must be assigned first: MySQL evaluates assignments left to right
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "clip_url"}},
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "status"}, Value: gorm.Expr(
					fmt.Sprintf("CASE WHEN clips.status IN ? THEN clips.status ELSE %s END", insertedValue(r.isMySQL, "status")),
					terminalStatuses)},
				{Column: clause.Column{Name: "local_path"}, Value: gorm.Expr(
					fmt.Sprintf("COALESCE(NULLIF(%s, ''), clips.local_path)", insertedValue(r.isMySQL, "local_path")))},
				{Column: clause.Column{Name: "date_str"}, Value: gorm.Expr(insertedValue(r.isMySQL, "date_str"))},
				{Column: clause.Column{Name: "hour"}, Value: gorm.Expr(insertedValue(r.isMySQL, "hour"))},
				{Column: clause.Column{Name: "minute"}, Value: gorm.Expr(insertedValue(r.isMySQL, "minute"))},
				{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr(insertedValue(r.isMySQL, "updated_at"))},
			},
		}).
		Create(&row).Error
	if err != nil {
		return nil, dbError(err, "upsert_clip", "clip_url", clip.ClipURL)
	}

	return r.GetClip(ctx, clip.ClipURL)
}

func (r *clipRepository) first(ctx context.Context, operation string, query any, args ...any) (*Clip, error) {
	var clip Clip
	err := r.db.WithContext(ctx).Where(query, args...).First(&clip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(ErrClipNotFound, operation, "query", fmt.Sprint(args...))
	}
	if err != nil {
		return nil, dbError(err, operation)
	}
	return &clip, nil
}

func (r *clipRepository) GetClip(ctx context.Context, clipURL string) (*Clip, error) {
	return r.first(ctx, "get_clip", "clip_url = ?", clipURL)
}

func (r *clipRepository) GetClipByID(ctx context.Context, id uint) (*Clip, error) {
	return r.first(ctx, "get_clip_by_id", "id = ?", id)
}

func (r *clipRepository) GetClipByLocalPath(ctx context.Context, localPath string) (*Clip, error) {
	return r.first(ctx, "get_clip_by_local_path", "local_path = ?", localPath)
}

func (r *clipRepository) UpdateClip(ctx context.Context, clipURL string, update ClipUpdate) error {
	if update.Status != nil && !update.Status.Valid() {
		return errors.New(ErrInvalidStatus).
			Component("datastore").
			Category(errors.CategoryValidation).
			Context("status", string(*update.Status)).
			Build()
	}

	cols := update.columns()
	if len(cols) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).Model(&Clip{}).Where("clip_url = ?", clipURL).Updates(cols)
	if result.Error != nil {
		return dbError(result.Error, "update_clip", "clip_url", clipURL)
	}
	if result.RowsAffected == 0 {
		return notFoundError(ErrClipNotFound, "update_clip", "clip_url", clipURL)
	}
	return nil
}

func (r *clipRepository) list(ctx context.Context, operation string, query any, args ...any) ([]Clip, error) {
	var clips []Clip
	if err := r.db.WithContext(ctx).Where(query, args...).Order(nightOrder).Find(&clips).Error; err != nil {
		return nil, dbError(err, operation)
	}
	return clips, nil
}

func (r *clipRepository) ListClipsByDate(ctx context.Context, date string) ([]Clip, error) {
	return r.list(ctx, "list_clips_by_date", "date_str = ?", date)
}

func (r *clipRepository) ListDetectedClips(ctx context.Context, date string) ([]Clip, error) {
	return r.list(ctx, "list_detected_clips", "date_str = ? AND status = ?", date, StatusDetected)
}

func (r *clipRepository) ListIncludedDetectedClips(ctx context.Context, date string) ([]Clip, error) {
	return r.list(ctx, "list_included_detected_clips", "date_str = ? AND status = ? AND excluded = ?", date, StatusDetected, false)
}

func (r *clipRepository) CountDetectedClips(ctx context.Context, date string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Clip{}).
		Where("date_str = ? AND status = ?", date, StatusDetected).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "count_detected_clips", "date", date)
	}
	return int(count), nil
}

func (r *clipRepository) CountByStatus(ctx context.Context, date string) (map[ClipStatus]int, error) {
	var rows []struct {
		Status ClipStatus
		Count  int
	}
	err := r.db.WithContext(ctx).Model(&Clip{}).
		Select("status, COUNT(*) AS count").
		Where("date_str = ?", date).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "count_by_status", "date", date)
	}

	counts := make(map[ClipStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *clipRepository) SetClipExcluded(ctx context.Context, id uint, excluded bool) error {
	result := r.db.WithContext(ctx).Model(&Clip{}).Where("id = ?", id).Update("excluded", excluded)
	if result.Error != nil {
		return dbError(result.Error, "set_clip_excluded", "id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError(ErrClipNotFound, "set_clip_excluded", "id", id)
	}
	return nil
}

func (r *clipRepository) ToggleClipExcluded(ctx context.Context, id uint) (*Clip, error) {
	clip, err := r.GetClipByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.SetClipExcluded(ctx, id, !clip.Excluded); err != nil {
		return nil, err
	}
	clip.Excluded = !clip.Excluded
	return clip, nil
}
