// Package spooler is the agent's view of the operating system print queue
// manager: enumerate printers, submit files, and look up submitted jobs.
package spooler

import (
	"context"
	"errors"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

var (
	ErrPrinterNotFound = errors.New("printer not found")
	ErrSubmitFailed    = errors.New("submission failed")
)

// JobScope selects which part of a printer's job list to read.
type JobScope int

const (
	Active JobScope = iota
	Completed
)

func (s JobScope) String() string {
	if s == Completed {
		return "completed"
	}
	return "not-completed"
}

// LocalState is the spooler's own job state vocabulary.
type LocalState string

const (
	StatePending    LocalState = "pending"
	StateHeld       LocalState = "held"
	StateProcessing LocalState = "processing"
	StateStopped    LocalState = "stopped"
	StateCancelled  LocalState = "cancelled"
	StateAborted    LocalState = "aborted"
	StateCompleted  LocalState = "completed"
)

// LocalJob is one entry of a printer's active list or history.
type LocalJob struct {
	Handle string
	State  LocalState
	Reason string
}

// Spooler is the local print subsystem capability.
type Spooler interface {
	ListPrinters(ctx context.Context) ([]model.Printer, error)
	Submit(ctx context.Context, printer, path, title string) (string, error)
	Jobs(ctx context.Context, printer string, scope JobScope) ([]LocalJob, error)
}

// Status maps a spooler state onto the remote job lifecycle.
func Status(state LocalState) model.JobStatus {
	switch state {
	case StateCompleted:
		return model.JobStatusCompleted
	case StateCancelled:
		return model.JobStatusCancelled
	case StateAborted, StateStopped:
		return model.JobStatusFailed
	default:
		return model.JobStatusProcessing
	}
}
