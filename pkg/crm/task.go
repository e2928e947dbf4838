package crm

import (
	"strings"
	"time"
)

// TaskStatus is the destination task status enum.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusDone       TaskStatus = "DONE"
)

// TimestampLayout is the normalized timestamp format sent to the destination
// (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// statusTable translates source task statuses. Lookups are exact.
var statusTable = map[string]TaskStatus{
	"Open":        TaskStatusTodo,
	"In Progress": TaskStatusInProgress,
	"Completed":   TaskStatusDone,
}

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// SourceTask is a task as returned by the source CRM.
type SourceTask struct {
	ID           string `json:"id"`
	Subject      string `json:"Subject"`
	Status       string `json:"Status"`
	DueDate      string `json:"Due_Date"`
	Owner        Owner  `json:"Owner"`
	CreatedTime  string `json:"Created_Time"`
	ModifiedTime string `json:"Modified_Time"`
}

// Task is a task in the destination CRM's bulk-create shape.
type Task struct {
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	DueAt    string     `json:"dueAt"`
	Position int        `json:"position"`
}

// MapStatus translates a source status; anything unknown becomes TODO.
func MapStatus(status string) TaskStatus {
	if mapped, ok := statusTable[status]; ok {
		return mapped
	}
	return TaskStatusTodo
}

// NormalizeDate re-emits value in TimestampLayout. If value cannot be
// parsed, now() is used instead.
func NormalizeDate(value string, now func() time.Time) string {
	if t, ok := parseDate(value); ok {
		return t.UTC().Format(TimestampLayout)
	}
	return now().UTC().Format(TimestampLayout)
}

// NewTaskMapper returns a task MapFunc whose date fallback uses now.
func NewTaskMapper(now func() time.Time) MapFunc[SourceTask, Task] {
	return func(src SourceTask, position int) Task {
		return Task{
			Title:    src.Subject,
			Status:   MapStatus(src.Status),
			DueAt:    NormalizeDate(src.DueDate, now),
			Position: position,
		}
	}
}

// MapTask converts a source task using the wall clock for the date fallback.
func MapTask(src SourceTask, position int) Task {
	return NewTaskMapper(time.Now)(src, position)
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
