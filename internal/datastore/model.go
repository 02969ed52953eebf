package datastore

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ClipStatus is the processing state of a clip
type ClipStatus string

const (
	StatusPending     ClipStatus = "pending"
	StatusDownloaded  ClipStatus = "downloaded"
	StatusDetected    ClipStatus = "detected"
	StatusNoDetection ClipStatus = "no_detection"
	StatusError       ClipStatus = "error"
)

// terminalStatuses are never overwritten by UpsertClip
var terminalStatuses = []string{string(StatusDetected), string(StatusNoDetection), string(StatusError)}

// AllStatuses lists the statuses in processing order
func AllStatuses() []ClipStatus {
	return []ClipStatus{StatusPending, StatusDownloaded, StatusDetected, StatusNoDetection, StatusError}
}

// IsTerminal reports whether detection has finished for the clip
func (s ClipStatus) IsTerminal() bool {
	switch s {
	case StatusDetected, StatusNoDetection, StatusError:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s ClipStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloaded, StatusDetected, StatusNoDetection, StatusError:
		return true
	}
	return false
}

// VideoPaths is the ordered list of highlight clips stored for a detected
// clip. The column holds a JSON array; rows written by older versions hold a
// single bare path, which decodes as a one-element list.
type VideoPaths []string

// Value implements driver.Valuer
func (v VideoPaths) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]string(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (v *VideoPaths) Scan(src any) error {
	var raw string
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		raw = s
	case []byte:
		raw = string(s)
	default:
		return fmt.Errorf("unsupported type %T for VideoPaths", src)
	}
	*v = ParseVideoPaths(raw)
	return nil
}

// ParseVideoPaths decodes a JSON array, falling back to a legacy single path
func ParseVideoPaths(raw string) VideoPaths {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	return VideoPaths{raw}
}

// Clip is one camera recording, usually a minute long
type Clip struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ClipURL        string     `gorm:"column:clip_url;uniqueIndex;size:512;not null" json:"clip_url"`
	Date           string     `gorm:"column:date_str;index;size:8;not null" json:"date"`
	Hour           int        `gorm:"not null" json:"hour"`
	Minute         int        `gorm:"not null" json:"minute"`
	LocalPath      string     `gorm:"size:1024;index" json:"local_path,omitempty"`
	Status         ClipStatus `gorm:"size:20;not null;default:pending;index" json:"status"`
	DetectionImage string     `gorm:"size:1024" json:"detection_image,omitempty"`
	DetectedVideos VideoPaths `gorm:"column:detected_video;type:text" json:"detected_videos,omitempty"`
	LineCount      int        `gorm:"default:0" json:"line_count"`
	Excluded       bool       `gorm:"default:false" json:"excluded"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM
func (Clip) TableName() string { return "clips" }

// Detection is one detection group within a clip
type Detection struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ClipID    uint   `gorm:"uniqueIndex:idx_detection_clip_line;not null" json:"clip_id"`
	LineIndex int    `gorm:"uniqueIndex:idx_detection_clip_line;not null" json:"group_index"`
	X1        int    `gorm:"not null" json:"x1"`
	Y1        int    `gorm:"not null" json:"y1"`
	X2        int    `gorm:"not null" json:"x2"`
	Y2        int    `gorm:"not null" json:"y2"`
	CropImage string `gorm:"size:1024" json:"crop_image,omitempty"`
	Excluded  bool   `gorm:"default:false" json:"excluded"`
	Clip      *Clip  `gorm:"foreignKey:ClipID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM
func (Detection) TableName() string { return "detections" }

// NightOutput holds the per-night artifacts
type NightOutput struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Date           string    `gorm:"column:date_str;uniqueIndex;size:8;not null" json:"date"`
	CompositeImage string    `gorm:"size:1024" json:"composite_image,omitempty"`
	ConcatVideo    string    `gorm:"size:1024" json:"concat_video,omitempty"`
	DetectionCount int       `gorm:"default:0" json:"detection_count"`
	Hidden         bool      `gorm:"default:false" json:"hidden"`
	LastUpdatedAt  time.Time `gorm:"autoUpdateTime" json:"last_updated_at"`
}

// TableName returns the table name for GORM
func (NightOutput) TableName() string { return "night_outputs" }

// Setting is a runtime override stored as text
type Setting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM
func (Setting) TableName() string { return "settings" }

// TaskState is the lifecycle state of a background task
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
	TaskFailed    TaskState = "failed"
)

// Done reports whether the task has finished
func (s TaskState) Done() bool { return s != TaskRunning }

// TaskRecord persists background task progress
type TaskRecord struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Kind      string    `gorm:"size:32;index;not null" json:"kind"`
	Date      string    `gorm:"column:date_str;size:8;index" json:"date"`
	State     TaskState `gorm:"size:16;index;not null" json:"state"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Message   string    `gorm:"type:text" json:"message,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM
func (TaskRecord) TableName() string { return "tasks" }

// ClipUpdate lists the clip columns that may change after ingestion.
// Nil fields are left untouched.
type ClipUpdate struct {
	Status         *ClipStatus
	LocalPath      *string
	DetectionImage *string
	DetectedVideos *VideoPaths
	LineCount      *int
	ErrorMessage   *string
}

// columns converts the update into a gorm column map
func (u ClipUpdate) columns() map[string]any {
	cols := make(map[string]any, 6)
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.LocalPath != nil {
		cols["local_path"] = *u.LocalPath
	}
	if u.DetectionImage != nil {
		cols["detection_image"] = *u.DetectionImage
	}
	if u.DetectedVideos != nil {
		cols["detected_video"] = *u.DetectedVideos
	}
	if u.LineCount != nil {
		cols["line_count"] = *u.LineCount
	}
	if u.ErrorMessage != nil {
		cols["error_message"] = *u.ErrorMessage
	}
	return cols
}

// Ptr returns a pointer to v, for building ClipUpdate values
func Ptr[T any](v T) *T { return &v }
