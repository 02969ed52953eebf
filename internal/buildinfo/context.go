// Package buildinfo carries build-time metadata and configuration check
// results, kept apart from the user configuration.
package buildinfo

import (
	"fmt"

	"github.com/google/uuid"
)

const unknown = "unknown"

// BuildInfo exposes build-time metadata
type BuildInfo interface {
	GetVersion() string
	GetBuildDate() string
	GetSystemID() string
}

// Context is injected at startup from linker flags
type Context struct {
	// Version is the git tag the binary was built from
	Version string

	// BuildDate is when the binary was built
	BuildDate string

	// SystemID identifies this installation in telemetry and MQTT payloads.
	// It is persisted in the settings table on first start.
	SystemID string
}

// New returns a Context with a fresh random SystemID
func New(version, buildDate string) *Context {
	return &Context{
		Version:   version,
		BuildDate: buildDate,
		SystemID:  NewSystemID(),
	}
}

// NewSystemID returns a short random installation identifier
func NewSystemID() string {
	return uuid.NewString()[:8]
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

// GetVersion implements BuildInfo
func (c *Context) GetVersion() string {
	if c == nil {
		return unknown
	}
	return orUnknown(c.Version)
}

// GetBuildDate implements BuildInfo
func (c *Context) GetBuildDate() string {
	if c == nil {
		return unknown
	}
	return orUnknown(c.BuildDate)
}

// GetSystemID implements BuildInfo
func (c *Context) GetSystemID() string {
	if c == nil {
		return unknown
	}
	return orUnknown(c.SystemID)
}

// String formats the version line printed by the version command
func (c *Context) String() string {
	return fmt.Sprintf("atomcam-meteor-detector %s (built %s)", c.GetVersion(), c.GetBuildDate())
}

// ValidationResult collects the outcome of a configuration check.
// Errors prevent startup, warnings do not.
type ValidationResult struct {
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Valid    bool     `json:"valid"`
}

// NewValidationResult returns a valid, empty result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddWarning records a non-fatal issue
func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// AddError records a fatal issue and marks the result invalid
func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

// HasIssues reports whether any warning or error was recorded
func (r *ValidationResult) HasIssues() bool {
	return len(r.Warnings) > 0 || len(r.Errors) > 0
}
