package task

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Format string

const (
	FormatDOCX Format = "docx"
	FormatJPEG Format = "jpeg"
	FormatPPT  Format = "ppt"
	FormatHTML Format = "html"
)

// Formats lists the supported target formats in display order.
var Formats = []Format{FormatDOCX, FormatJPEG, FormatPPT, FormatHTML}

func (f Format) Valid() bool {
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

const (
	DefaultQuality = 90
	DefaultDPI     = 300
)

// Options are the conversion parameters fixed at submission.
type Options struct {
	Pages          string `json:"pages,omitempty" validate:"max=256"`
	Quality        int    `json:"quality" validate:"min=1,max=100"`
	DPI            int    `json:"dpi" validate:"min=72,max=600"`
	PreserveLayout bool   `json:"preserve_layout"`
}

// DefaultOptions mirrors the form defaults of the upload endpoint.
func DefaultOptions() Options {
	return Options{
		Quality:        DefaultQuality,
		DPI:            DefaultDPI,
		PreserveLayout: true,
	}
}

// Task is one conversion request and its tracked state.
type Task struct {
	ID             string    `json:"task_id"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	SourceFileName string    `json:"file_name"`
	Format         Format    `json:"format"`
	Options        Options   `json:"options"`
	Progress       float64   `json:"progress"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	ResultPath     string    `json:"result_path,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Clone returns a copy that shares no mutable state with t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Change describes one state transition applied by Store.Update. Status is
// always written; nil pointers leave the stored value untouched and the
// Clear flags null a field.
type Change struct {
	Status       Status
	Progress     *float64
	ErrorMessage *string
	ResultPath   *string
	ClearError   bool
	ClearResult  bool
}

// Apply writes c onto t. Stores use it so every backend applies a change
// the same way.
func (c Change) Apply(t *Task, now time.Time) {
	t.Status = c.Status
	if c.Progress != nil {
		t.Progress = *c.Progress
	}
	if c.ErrorMessage != nil {
		t.ErrorMessage = *c.ErrorMessage
	}
	if c.ClearError {
		t.ErrorMessage = ""
	}
	if c.ResultPath != nil {
		t.ResultPath = *c.ResultPath
	}
	if c.ClearResult {
		t.ResultPath = ""
	}
	t.UpdatedAt = now
}

func progressChange(status Status, progress float64) Change {
	return Change{Status: status, Progress: &progress}
}

func completedChange(resultPath string) Change {
	p := 100.0
	return Change{Status: StatusCompleted, Progress: &p, ResultPath: &resultPath, ClearError: true}
}

func failedChange(msg string) Change {
	p := 0.0
	return Change{Status: StatusFailed, Progress: &p, ErrorMessage: &msg, ClearResult: true}
}

func cancelledChange() Change {
	return Change{Status: StatusCancelled, ClearError: true, ClearResult: true}
}
