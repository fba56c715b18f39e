package systemd

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"wearnotify/internal/handler"
)

type fakeManager struct {
	ops    []string
	closed bool
}

func (f *fakeManager) Status(ctx context.Context, unit string) (Status, error) {
	switch unit {
	case "web":
		return Status{Name: unit, Active: "active", SubState: "running", LoadState: "loaded",
			Since: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)}, nil
	case "gone":
		return notFound(unit), nil
	}
	return Status{}, errors.New("dbus timeout")
}

func (f *fakeManager) Start(ctx context.Context, unit string) error {
	f.ops = append(f.ops, "start "+unit)
	return nil
}

func (f *fakeManager) Stop(ctx context.Context, unit string) error {
	return errors.New("access denied")
}

func (f *fakeManager) Restart(ctx context.Context, unit string) error {
	f.ops = append(f.ops, "restart "+unit)
	return nil
}

func (f *fakeManager) Close() error {
	f.closed = true
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeManager) {
	t.Helper()
	fm := &fakeManager{}
	h := New()
	var connects int
	h.connect = func(ctx context.Context) (Manager, error) {
		connects++
		if connects > 1 {
			t.Fatalf("reconnected")
		}
		return fm, nil
	}
	ctx := context.Background()
	if err := h.Init(ctx, handler.Deps{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := h.OnConfigChange(ctx, json.RawMessage(`{"units":["web.service","gone"," ","web","db"]}`)); err != nil {
		t.Fatalf("config: %v", err)
	}
	return h, fm
}

func TestStatusAndList(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	got, err := h.Handle(ctx, "list")
	if err != nil || !reflect.DeepEqual(got, []string{"db", "gone", "web"}) {
		t.Fatalf("list = %#v, %v", got, err)
	}

	got, _ = h.Handle(ctx, "")
	want := []string{
		"db: error: dbus timeout",
		"gone: not found",
		"web: active (running) since 2026-01-02 03:04:05",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("status = %#v", got)
	}
}

func TestOperations(t *testing.T) {
	h, fm := newTestHandler(t)
	ctx := context.Background()

	got, _ := h.Handle(ctx, "restart web db")
	if !reflect.DeepEqual(got, []string{"web: restart ok", "db: restart ok"}) {
		t.Fatalf("restart = %#v", got)
	}
	got, _ = h.Handle(ctx, "stop web")
	if !reflect.DeepEqual(got, []string{"web: stop failed: access denied"}) {
		t.Fatalf("stop = %#v", got)
	}
	if !reflect.DeepEqual(fm.ops, []string{"restart web", "restart db"}) {
		t.Fatalf("ops = %v", fm.ops)
	}

	got, _ = h.Handle(ctx, "start sshd")
	if s, ok := got.(handler.Structured); !ok || !s.Failed() {
		t.Fatalf("unmanaged unit accepted: %#v", got)
	}
	if len(fm.ops) != 2 {
		t.Fatalf("unmanaged unit reached manager: %v", fm.ops)
	}

	if err := h.Exit(ctx); err != nil || !fm.closed {
		t.Fatalf("exit: %v closed=%v", err, fm.closed)
	}
}

func TestConnectFailure(t *testing.T) {
	h, _ := newTestHandler(t)
	h.connect = func(ctx context.Context) (Manager, error) { return nil, ErrUnsupported }
	got, err := h.Handle(context.Background(), "status web")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if s, ok := got.(handler.Structured); !ok || !s.Failed() {
		t.Fatalf("expected failed envelope, got %#v", got)
	}
}
