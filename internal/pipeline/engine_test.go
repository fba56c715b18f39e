package pipeline

import (
	"strings"
	"testing"
)

func intp(v int) *int { return &v }

func TestBatchedAppliesWindowPerBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PacketsCount = 3
	cfg.Step = -1
	got := Batched{}.Arrange([][]string{{"a", "b", "c", "d", "e", "f", "g"}}, false, cfg)
	want := "c,b,a,f,e,d,g"
	if strings.Join(got, ",") != want {
		t.Fatalf("got %q want %q", strings.Join(got, ","), want)
	}

	cfg.Step = 2
	cfg.Start = intp(0)
	got = Batched{}.Arrange([][]string{{"a", "b", "c", "d", "e", "f", "g"}}, false, cfg)
	if strings.Join(got, ",") != "a,c,d,f,g" {
		t.Fatalf("stride: got %q", got)
	}
}

func TestWindowedAppliesWindowOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PacketsCount = 3
	cfg.Step = -1
	got := Windowed{}.Arrange([][]string{{"a", "b", "c", "d", "e"}}, false, cfg)
	if strings.Join(got, ",") != "e,d,c,b,a" {
		t.Fatalf("got %q", got)
	}

	cfg.Step = 1
	cfg.Start = intp(1)
	cfg.Stop = intp(-1)
	got = Windowed{}.Arrange([][]string{{"a", "b", "c"}, {"x", "y", "z"}}, true, cfg)
	if strings.Join(got, ",") != "b,y" {
		t.Fatalf("list: got %q", got)
	}
}

func TestWindowNegativeStepBounds(t *testing.T) {
	s := []string{"0", "1", "2", "3", "4"}
	if got := strings.Join(window(s, intp(3), intp(0), -1), ""); got != "321" {
		t.Fatalf("got %q", got)
	}
	if got := strings.Join(window(s, nil, nil, -2), ""); got != "420" {
		t.Fatalf("got %q", got)
	}
	if got := strings.Join(window(s, intp(-2), nil, 1), ""); got != "34" {
		t.Fatalf("got %q", got)
	}
}

func TestEngineByName(t *testing.T) {
	if e, err := EngineByName(""); err != nil || e.Name() != EngineBatched {
		t.Fatalf("default engine: %v %v", e, err)
	}
	if e, err := EngineByName("Windowed"); err != nil || e.Name() != EngineWindowed {
		t.Fatalf("windowed: %v %v", e, err)
	}
	if _, err := EngineByName("tulip"); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}
