// Package hooks fans pipeline events out to logging, push notifications,
// MQTT, Sentry and metrics. A failing hook never affects the pipeline or
// the other hooks.
package hooks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

// Pipeline stages reported in ErrorEvent.Stage
const (
	StageDownload  = "download"
	StageDetection = "detection"
	StageComposite = "composite"
)

// DetectionEvent is emitted once per clip in which a meteor was found
type DetectionEvent struct {
	Date      string `json:"date"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
	LineCount int    `json:"line_count"`
	ImagePath string `json:"image_path"`
	ClipPath  string `json:"clip_path"`
}

// NightCompleteEvent is emitted at the end of every Execute run
type NightCompleteEvent struct {
	Date           string `json:"date"`
	Count          int    `json:"count"`
	CompositeImage string `json:"composite"`
	ConcatVideo    string `json:"video"`
}

// ErrorEvent reports a per-clip or per-slot failure the batch survived
type ErrorEvent struct {
	Stage   string            `json:"stage"`
	Err     error             `json:"-"`
	Context map[string]string `json:"context,omitempty"`
}

// Message returns the error text, empty when Err is nil
func (e ErrorEvent) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// Hook receives pipeline events
type Hook interface {
	Name() string
	OnDetection(ctx context.Context, ev DetectionEvent) error
	OnNightComplete(ctx context.Context, ev NightCompleteEvent) error
	OnError(ctx context.Context, ev ErrorEvent) error
}

// NopHook implements Hook with no-ops so hooks only override what they use
type NopHook struct{}

func (NopHook) OnDetection(context.Context, DetectionEvent) error         { return nil }
func (NopHook) OnNightComplete(context.Context, NightCompleteEvent) error { return nil }
func (NopHook) OnError(context.Context, ErrorEvent) error                 { return nil }

// GetLogger returns the hooks module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("hooks")
}

// Runner dispatches events to hooks in registration order
type Runner struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewRunner creates a Runner with the given hooks
func NewRunner(hooks ...Hook) *Runner {
	r := &Runner{}
	for _, h := range hooks {
		r.Add(h)
	}
	return r
}

// Add registers a hook; nil is ignored
func (r *Runner) Add(h Hook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Names lists registered hooks
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.hooks))
	for _, h := range r.hooks {
		names = append(names, h.Name())
	}
	return names
}

// Detection delivers ev to every hook
func (r *Runner) Detection(ctx context.Context, ev DetectionEvent) {
	r.each("detection", func(h Hook) error { return h.OnDetection(ctx, ev) })
}

// NightComplete delivers ev to every hook
func (r *Runner) NightComplete(ctx context.Context, ev NightCompleteEvent) {
	r.each("night_complete", func(h Hook) error { return h.OnNightComplete(ctx, ev) })
}

// Error delivers ev to every hook
func (r *Runner) Error(ctx context.Context, ev ErrorEvent) {
	r.each("error", func(h Hook) error { return h.OnError(ctx, ev) })
}

func (r *Runner) each(event string, call func(Hook) error) {
	if r == nil {
		return
	}
	r.mu.RLock()
	hooks := make([]Hook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := safeCall(h, call); err != nil {
			GetLogger().Warn("hook failed",
				logger.String("hook", h.Name()),
				logger.String("event", event),
				logger.Error(err))
		}
	}
}

func safeCall(h Hook, call func(Hook) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panicked: %v", rec)
			GetLogger().Error("hook panic",
				logger.String("hook", h.Name()),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	return call(h)
}
