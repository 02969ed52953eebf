// Package metrics defines the Prometheus collectors of the meteor pipeline.
package metrics

// Operation names recorded through the Recorder interface.
const (
	// OpRun is one pipeline run (execute, redetect or rebuild).
	OpRun = "run"
	// OpDetect is detection on a single clip.
	OpDetect = "detect"
	// OpDownload is the download of a single clip.
	OpDownload = "download"
	// OpExtract is highlight clip extraction.
	OpExtract = "extract"
	// OpComposite is composite image generation.
	OpComposite = "composite"
	// OpConcat is highlight video concatenation.
	OpConcat = "concat"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// PercentageFactor is the multiplier to convert ratio to percentage.
const PercentageFactor = 100.0
