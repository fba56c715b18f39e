package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wearnotify/pkg/logx"
)

func TestSetValidatesSpec(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Set("cleanup", "every tuesday", 0, noop); err == nil {
		t.Fatalf("bad spec accepted")
	}
	if err := s.Set("cleanup", "0 4 * * *", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("cleanup", "@hourly", 0, noop); err != nil {
		t.Fatal(err)
	}
	if n := len(s.Names()); n != 1 {
		t.Fatalf("jobs = %d", n)
	}
	if err := s.Set("cleanup", "", 0, nil); err != nil || len(s.Names()) != 0 {
		t.Fatalf("empty spec did not remove: %v", err)
	}
}

func TestRunNowSkipsOverlapAndRecovers(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	release := make(chan struct{})
	var runs atomic.Int32
	if err := s.Set("slow", "@daily", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := s.RunNow(context.Background(), "slow"); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if runs.Load() != 1 {
		t.Fatalf("overlapping run executed: %d", runs.Load())
	}

	_ = s.Set("bad", "@daily", 0, func(context.Context) error { panic("x") })
	if err := s.RunNow(context.Background(), "bad"); err == nil {
		t.Fatalf("panic not reported")
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Fatalf("unknown job ran")
	}
}

func TestCronTriggers(t *testing.T) {
	s := New(time.UTC, logx.Nop())
	fired := make(chan struct{}, 1)
	if err := s.Set("tick", "@every 1s", 0, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return errors.New("reported, not fatal")
	}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("job never fired")
	}
}
