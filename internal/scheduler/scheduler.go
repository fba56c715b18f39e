// Package scheduler runs named cron jobs (cache cleanup) on a robfig/cron
// runner. A job still running when its next tick fires is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"wearnotify/pkg/logx"
)

// Job is the work run on every tick.
type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	id      cron.EntryID
	running atomic.Bool
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	parser cron.Parser
	loc    *time.Location
	c      *cron.Cron
	ctx    context.Context
	defs   map[string]*entry
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log: log.With(logx.String("component", "scheduler")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
		ctx:    context.Background(),
		defs:   map[string]*entry{},
	}
}

// Set registers or replaces the job called name. An empty spec removes it.
func (s *Service) Set(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("scheduler: name required")
	}
	spec = strings.TrimSpace(spec)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	if spec == "" {
		return nil
	}
	if job == nil {
		return errors.New("scheduler: job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("scheduler: %s: %w", name, err)
	}
	e := &entry{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = e
	if s.c != nil {
		if err := s.addLocked(e); err != nil {
			return err
		}
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.String("next", s.nextLocked(spec)))
	return nil
}

// Remove drops the job called name.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	s.removeLocked(name)
	s.mu.Unlock()
}

func (s *Service) removeLocked(name string) {
	e, ok := s.defs[name]
	if !ok {
		return
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.defs, name)
}

// Names lists registered jobs.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for n := range s.defs {
		out = append(out, n)
	}
	return out
}

// Start begins triggering. Jobs run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.defs {
		if err := s.addLocked(e); err != nil {
			s.log.Error("schedule register failed", logx.String("name", e.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// RunNow runs the job called name synchronously.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(ctx, e)
}

func (s *Service) addLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if err := s.run(ctx, e); err != nil {
			s.log.Warn("scheduled job failed", logx.String("name", e.name), logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (s *Service) run(ctx context.Context, e *entry) (err error) {
	if !e.running.CompareAndSwap(false, true) {
		s.log.Debug("job still running; tick skipped", logx.String("name", e.name))
		return nil
	}
	defer e.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("name", e.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", e.name, r)
		}
	}()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	start := time.Now()
	err = e.job(ctx)
	s.log.Debug("job finished", logx.String("name", e.name), logx.Duration("took", time.Since(start)), logx.Bool("ok", err == nil))
	return err
}

func (s *Service) nextLocked(spec string) string {
	sch, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	return sch.Next(time.Now().In(s.loc)).Format(time.RFC3339)
}
