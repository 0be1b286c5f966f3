package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s may be replaced by to. Terminal states
// are final and processing never falls back to queued.
func (s JobStatus) CanTransition(to JobStatus) bool {
	if s == to || s.IsTerminal() {
		return false
	}
	if s == JobStatusProcessing && to == JobStatusQueued {
		return false
	}
	return true
}

// Ref is an opaque identifier the API sends either as a string or a number.
type Ref string

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Ref(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("ref must be a string or number: %w", err)
	}
	*r = Ref(n.String())
	return nil
}

func (r Ref) String() string {
	return string(r)
}

// --- Print Job Structures (Matching the API JSON) ---

type PrintJob struct {
	ID          int64       `json:"id"`
	MediaID     Ref         `json:"media_id"`
	PrinterID   *int64      `json:"printer_id,omitempty"`
	IsCompleted bool        `json:"is_completed"`
	Status      JobStatus   `json:"status,omitempty"`
	CupsJobID   Ref         `json:"cups_job_id,omitempty"`
	Printer     *JobPrinter `json:"printer,omitempty"`
}

// JobPrinter is the printer relationship embedded with include=printer.
type JobPrinter struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	SystemName  string `json:"system_name,omitempty"`
	SpoolerName string `json:"spooler_name"`
}

// Tracked reports whether the remote already knows a local handle for a
// job that has not finished, meaning it was submitted by an earlier run.
func (j PrintJob) Tracked() bool {
	return j.CupsJobID != "" && j.Status != "" && !j.Status.IsTerminal()
}

// JobStatusUpdate is the PUT /print-jobs body.
type JobStatusUpdate struct {
	ID           int64      `json:"id"`
	IsCompleted  bool       `json:"is_completed"`
	Status       JobStatus  `json:"status"`
	CupsJobID    string     `json:"cups_job_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PrintedAt    *time.Time `json:"printed_at,omitempty"`
}

// InFlightJob is the local bookkeeping for a job between submission and a
// terminal state.
type InFlightJob struct {
	JobID              int64
	LocalHandle        string
	PrinterSystemName  string
	SubmittedAt        time.Time
	LastReportedStatus JobStatus
}
