package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/datastore"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/lock"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
	"github.com/ysmr3104/atomcam-meteor-detector/internal/tasks"
)

func (s *Server) initTaskRoutes(g *echo.Group) {
	g.POST("/nights/:date/redetect", s.startRedetect)
	g.POST("/nights/:date/rebuild/composite", s.startRebuildComposite)
	g.POST("/nights/:date/rebuild/video", s.startRebuildConcat)
	g.GET("/nights/:date/tasks", s.listTasks)
	g.GET("/tasks/:id", s.getTask)
	g.POST("/tasks/:id/cancel", s.cancelTask)
}

// operation runs one orchestrator call and returns its result
type operation func(ctx context.Context, o Orchestrator, date string, progress pipeline.ProgressFunc) (*pipeline.Result, error)

func (s *Server) startRedetect(c echo.Context) error {
	return s.startTask(c, tasks.KindRedetect, func(ctx context.Context, o Orchestrator, date string, progress pipeline.ProgressFunc) (*pipeline.Result, error) {
		return o.RedetectFromLocal(ctx, date, progress)
	})
}

func (s *Server) startRebuildComposite(c echo.Context) error {
	return s.startTask(c, tasks.KindRebuildComposite, func(ctx context.Context, o Orchestrator, date string, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		return o.RebuildComposite(ctx, date)
	})
}

func (s *Server) startRebuildConcat(c echo.Context) error {
	return s.startTask(c, tasks.KindRebuildConcat, func(ctx context.Context, o Orchestrator, date string, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		return o.RebuildConcatenation(ctx, date)
	})
}

func (s *Server) tasksUnavailable(c echo.Context) error {
	return s.HandleError(c, nil, "Background tasks are not available", http.StatusServiceUnavailable)
}

func (s *Server) startTask(c echo.Context, kind tasks.Kind, op operation) error {
	if s.tasks == nil || s.pipelines == nil {
		return s.tasksUnavailable(c)
	}
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}

	ctx := c.Request().Context()
	orchestrator, err := s.pipelines(ctx)
	if err != nil {
		return s.HandleError(c, err, "Failed to prepare pipeline", 0)
	}

	task, err := s.tasks.Start(ctx, kind, date, s.taskBody(orchestrator, date, op))
	if err != nil {
		return s.HandleError(c, err, "Failed to start task", 0)
	}
	return c.JSON(http.StatusAccepted, task)
}

// taskBody adapts an orchestrator call to a task function. The process
// lock is held for the duration when a lock path is configured.
func (s *Server) taskBody(o Orchestrator, date string, op operation) tasks.Func {
	return func(ctx context.Context, report func(int, int)) (string, error) {
		var result *pipeline.Result
		run := func() error {
			var err error
			result, err = op(ctx, o, date, pipeline.ProgressFunc(report))
			return err
		}

		var err error
		if s.lockPath != "" {
			err = lock.WithLock(s.lockPath, run)
		} else {
			err = run()
		}
		if err != nil {
			return "", err
		}
		return summarize(result), nil
	}
}

func summarize(r *pipeline.Result) string {
	if r == nil {
		return ""
	}
	msg := fmt.Sprintf("%d clips, %d detections", r.ClipsProcessed, r.DetectionsFound)
	if r.Cancelled {
		msg += " (cancelled)"
	}
	return msg
}

func (s *Server) listTasks(c echo.Context) error {
	if s.tasks == nil {
		return s.tasksUnavailable(c)
	}
	date, err := dateParam(c)
	if err != nil {
		return s.HandleError(c, err, "Invalid date", 0)
	}
	list, err := s.tasks.List(c.Request().Context(), date)
	if err != nil {
		return s.HandleError(c, err, "Failed to list tasks", 0)
	}
	if list == nil {
		list = []datastore.TaskRecord{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getTask(c echo.Context) error {
	if s.tasks == nil {
		return s.tasksUnavailable(c)
	}
	task, err := s.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.HandleError(c, err, "Task not found", 0)
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c echo.Context) error {
	if s.tasks == nil {
		return s.tasksUnavailable(c)
	}
	id := c.Param("id")
	ctx := c.Request().Context()
	if err := s.tasks.Cancel(ctx, id); err != nil {
		if errors.Is(err, tasks.ErrTaskFinished) {
			return s.HandleError(c, err, "Task already finished", http.StatusConflict)
		}
		return s.HandleError(c, err, "Failed to cancel task", 0)
	}
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return s.HandleError(c, err, "Task not found", 0)
	}
	return c.JSON(http.StatusAccepted, task)
}
