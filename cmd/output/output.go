// Package output formats command results for the terminal
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/pipeline"
)

// JSON writes v as indented JSON
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Result prints a pipeline result, as JSON when asJSON is set
func Result(w io.Writer, r *pipeline.Result, asJSON bool) error {
	if r == nil {
		return nil
	}
	if asJSON {
		return JSON(w, r)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Night %s\n", r.Date)
	if r.DryRun {
		fmt.Fprintf(&b, "  dry run:         %d clip(s) would be processed\n", r.Planned)
		_, err := io.WriteString(w, b.String())
		return err
	}
	fmt.Fprintf(&b, "  clips processed: %d\n", r.ClipsProcessed)
	fmt.Fprintf(&b, "  detections:      %d", r.DetectionsFound)
	if r.NewDetections > 0 {
		fmt.Fprintf(&b, " (%d new)", r.NewDetections)
	}
	b.WriteString("\n")
	if r.CompositeImage != "" {
		fmt.Fprintf(&b, "  composite:       %s\n", r.CompositeImage)
	}
	if r.ConcatVideo != "" {
		fmt.Fprintf(&b, "  video:           %s\n", r.ConcatVideo)
	}
	if r.Cancelled {
		b.WriteString("  cancelled before all clips were processed\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Progress returns a callback that redraws "processed/total" on one line
func Progress(w io.Writer, label string) pipeline.ProgressFunc {
	return func(processed, total int) {
		fmt.Fprintf(w, "\r%s %d/%d", label, processed, total)
		if processed == total {
			fmt.Fprintln(w)
		}
	}
}
