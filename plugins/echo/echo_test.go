package echo

import (
	"context"
	"encoding/json"
	"testing"

	"wearnotify/internal/handler"
)

func TestHandle(t *testing.T) {
	h := New()
	ctx := context.Background()
	if err := h.Init(ctx, handler.Deps{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := h.OnConfigChange(ctx, json.RawMessage(`{"prefix":"> "}`)); err != nil {
		t.Fatalf("config: %v", err)
	}

	cases := map[string]any{
		"hello":          "> hello",
		"upper shout it": "> SHOUT IT",
		"LOWER Quiet":    "> quiet",
		"   ":            nil,
	}
	for in, want := range cases {
		got, err := h.Handle(ctx, in)
		if err != nil {
			t.Fatalf("handle %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("handle %q = %#v, want %#v", in, got, want)
		}
	}

	got, _ := h.HandleOutOfContext(ctx, "psst")
	if got != "[ooc] > psst" {
		t.Fatalf("ooc = %#v", got)
	}
	if err := h.OnConfigChange(ctx, json.RawMessage(`{"prefix":`)); err == nil {
		t.Fatalf("expected bad config error")
	}
}

func TestEnterContextFromConfig(t *testing.T) {
	s := handler.MergeSettings(New().Settings(), json.RawMessage(`{"enter_context": true}`))
	if !s.EnterContext {
		t.Fatalf("enter_context not applied")
	}
}
