package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on a concrete collector so tests can
// pass a fake.
type Recorder interface {
	// RecordOperation records an operation (e.g. "detect", "download") with
	// its status ("success", "error", "skipped").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)
}
