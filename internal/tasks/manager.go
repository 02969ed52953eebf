// Package tasks runs long redetect and rebuild jobs in the background and
// tracks their progress in memory and in the task table.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// Kind names a background job type
type Kind string

const (
	KindRedetect         Kind = "redetect"
	KindRebuildComposite Kind = "rebuild_composite"
	KindRebuildConcat    Kind = "rebuild_concat"
)

const (
	cacheTTL          = 30 * time.Minute
	cacheCleanup      = 10 * time.Minute
	persistTimeout    = 5 * time.Second
	interruptedReason = "interrupted"
)

var (
	// ErrTaskRunning is returned when a task of the same kind and night is active
	ErrTaskRunning = errors.NewStd("task already running")
	// ErrTaskFinished is returned when cancelling a task that already ended
	ErrTaskFinished = errors.NewStd("task already finished")
)

// GetLogger returns the tasks module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("tasks")
}

// Func is the body of a task. report may be called any number of times.
// The returned string becomes the task message on success.
type Func func(ctx context.Context, report func(processed, total int)) (string, error)

// Manager starts, tracks and cancels background tasks
type Manager struct {
	repo  datastore.TaskRepository
	cache *cache.Cache

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	active  map[string]string // kind/date -> task id

	wg sync.WaitGroup
}

// NewManager creates a manager persisting through repo
func NewManager(repo datastore.TaskRepository) *Manager {
	return &Manager{
		repo:    repo,
		cache:   cache.New(cacheTTL, cacheCleanup),
		cancels: make(map[string]context.CancelFunc),
		active:  make(map[string]string),
	}
}

// Recover marks tasks left running by a previous process as failed
func (m *Manager) Recover(ctx context.Context) (int64, error) {
	n, err := m.repo.FailRunning(ctx, interruptedReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		GetLogger().Warn("marked interrupted tasks as failed", logger.Int64("count", n))
	}
	return n, nil
}

// Start launches fn in a goroutine and returns the initial task record.
// Only one task per kind and night may run at a time.
func (m *Manager) Start(ctx context.Context, kind Kind, date string, fn Func) (*datastore.TaskRecord, error) {
	key := string(kind) + "/" + date

	m.mu.Lock()
	if id, ok := m.active[key]; ok {
		m.mu.Unlock()
		return nil, errors.New(fmt.Errorf("%w: %s for %s", ErrTaskRunning, kind, date)).
			Component("tasks").
			Category(errors.CategoryConflict).
			Context("task_id", id).
			Build()
	}

	task := &datastore.TaskRecord{
		ID:    uuid.NewString(),
		Kind:  string(kind),
		Date:  date,
		State: datastore.TaskRunning,
	}
	if err := m.repo.Save(ctx, task); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancels[task.ID] = cancel
	m.active[key] = task.ID
	m.store(task)
	m.mu.Unlock()

	GetLogger().Info("task started",
		logger.String("task_id", task.ID),
		logger.String("kind", task.Kind),
		logger.String("date", date))

	m.wg.Add(1)
	go m.run(taskCtx, key, *task, fn)

	snapshot := *task
	return &snapshot, nil
}

func (m *Manager) run(ctx context.Context, key string, task datastore.TaskRecord, fn Func) {
	defer m.wg.Done()
	defer m.release(key, task.ID)

	report := func(processed, total int) {
		task.Processed = processed
		task.Total = total
		m.persist(&task)
	}

	message, err := m.invoke(ctx, fn, report)
	switch {
	case ctx.Err() != nil:
		task.State = datastore.TaskCancelled
		task.Message = "cancelled"
	case err != nil:
		task.State = datastore.TaskFailed
		task.Message = errors.ScrubMessage(err.Error())
	default:
		task.State = datastore.TaskCompleted
		task.Message = message
	}
	m.persist(&task)

	GetLogger().Info("task finished",
		logger.String("task_id", task.ID),
		logger.String("kind", task.Kind),
		logger.String("state", string(task.State)),
		logger.Int("processed", task.Processed),
		logger.Int("total", task.Total))
}

func (m *Manager) invoke(ctx context.Context, fn Func, report func(int, int)) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("task panicked: %v", r).
				Component("tasks").
				Category(errors.CategoryProcessing).
				Build()
		}
	}()
	return fn(ctx, report)
}

func (m *Manager) release(key, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	if m.active[key] == id {
		delete(m.active, key)
	}
}

// persist stores a copy in the cache and writes it to the database
func (m *Manager) persist(task *datastore.TaskRecord) {
	m.store(task)
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.Save(ctx, task); err != nil {
		GetLogger().Warn("failed to persist task state",
			logger.String("task_id", task.ID),
			logger.Error(err))
	}
}

func (m *Manager) store(task *datastore.TaskRecord) {
	snapshot := *task
	m.cache.Set(task.ID, &snapshot, cache.DefaultExpiration)
}

// Get returns the latest known state of a task
func (m *Manager) Get(ctx context.Context, id string) (*datastore.TaskRecord, error) {
	if v, ok := m.cache.Get(id); ok {
		snapshot := *v.(*datastore.TaskRecord)
		return &snapshot, nil
	}
	task, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.State.Done() {
		m.store(task)
	}
	return task, nil
}

// List returns the tasks recorded for a night, newest first
func (m *Manager) List(ctx context.Context, date string) ([]datastore.TaskRecord, error) {
	tasks, err := m.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if v, ok := m.cache.Get(tasks[i].ID); ok {
			tasks[i] = *v.(*datastore.TaskRecord)
		}
	}
	return tasks, nil
}

// Cancel requests cancellation of a running task
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
		GetLogger().Info("task cancellation requested", logger.String("task_id", id))
		return nil
	}

	if _, err := m.Get(ctx, id); err != nil {
		return err
	}
	return errors.New(fmt.Errorf("%w: %s", ErrTaskFinished, id)).
		Component("tasks").
		Category(errors.CategoryState).
		Build()
}

// Running reports the number of tasks currently executing
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Wait blocks until every started task has finished
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels running tasks and waits for them to finish
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.cache.Flush()
}
