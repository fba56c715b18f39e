package systemd

import (
	"context"
	"errors"
	"time"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// Status is the state of one service unit.
type Status struct {
	Name        string
	Active      string
	SubState    string
	LoadState   string
	Description string
	Since       time.Time
}

func (s Status) Found() bool { return s.LoadState != "not-found" }

// Manager talks to the service manager.
type Manager interface {
	Status(ctx context.Context, unit string) (Status, error)
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	Close() error
}

func notFound(name string) Status {
	return Status{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}
