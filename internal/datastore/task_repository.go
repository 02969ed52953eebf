package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// TaskRepository persists background task progress.
type TaskRepository interface {
	Save(ctx context.Context, task *TaskRecord) error
	Get(ctx context.Context, id string) (*TaskRecord, error)
	ListByDate(ctx context.Context, date string) ([]TaskRecord, error)
	// FailRunning marks tasks left running by a previous process as failed.
	FailRunning(ctx context.Context, message string) (int64, error)
}

// taskRepository implements TaskRepository.
type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Save(ctx context.Context, task *TaskRecord) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "processed", "total", "message", "updated_at"}),
		}).
		Create(task).Error
	if err != nil {
		return dbError(err, "save_task", "task_id", task.ID)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id string) (*TaskRecord, error) {
	var task TaskRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(ErrTaskNotFound, "get_task", "task_id", id)
	}
	if err != nil {
		return nil, dbError(err, "get_task", "task_id", id)
	}
	return &task, nil
}

func (r *taskRepository) ListByDate(ctx context.Context, date string) ([]TaskRecord, error) {
	var tasks []TaskRecord
	if err := r.db.WithContext(ctx).Where("date_str = ?", date).Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, dbError(err, "list_tasks", "date", date)
	}
	return tasks, nil
}

func (r *taskRepository) FailRunning(ctx context.Context, message string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("state = ?", TaskRunning).
		Updates(map[string]any{"state": TaskFailed, "message": message})
	if result.Error != nil {
		return 0, dbError(result.Error, "fail_running_tasks")
	}
	return result.RowsAffected, nil
}
