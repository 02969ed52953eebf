package observability

import "github.com/ysmr3104/atomcam-meteor-detector/internal/logger"

// Package-level cached logger instance for efficiency.
var log = logger.Global().Module("metrics")

// promLogger routes promhttp errors to the module logger
type promLogger struct{}

func (promLogger) Println(v ...any) {
	log.Error("metrics handler error", logger.Any("detail", v))
}
