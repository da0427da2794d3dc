package models

import (
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusError      TaskStatus = "error"
)

// Terminal reports whether no further status mutation may occur.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Options is the subsetting configuration attached to a task. The service
// only checks that the payload parsed as a JSON object; key semantics
// belong to the subsetter boundary.
type Options map[string]any

// Bool reads a boolean option, treating anything else as false.
func (o Options) Bool(key string) bool {
	v, ok := o[key].(bool)
	return ok && v
}

// String reads a string option, treating anything else as empty.
func (o Options) String(key string) string {
	v, _ := o[key].(string)
	return v
}

type Task struct {
	ID               string
	TraceID          string
	OriginalFilename string
	Status           TaskStatus
	Progress         int
	Message          string
	InputRef         string
	OutputRef        string
	Options          Options
	OriginalSize     int64
	NewSize          int64
	Reduction        float64
	ErrorMessage     string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}
