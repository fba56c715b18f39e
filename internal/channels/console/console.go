// Package console is the terminal channel: packets go to stdout and
// requests are read line by line from stdin.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"wearnotify/internal/channels"
	"wearnotify/internal/dispatch"
	"wearnotify/internal/inputctx"
	"wearnotify/pkg/logx"
)

const (
	Name             = "console"
	DefaultSeparator = "========"

	continuePrompt = "TYPE ANYTHING FOR CONTINUE; FOR BREAK - (Ctrl+C or 00) >> "
	breakWord      = "00"
	quitWord       = "quit"
)

// Output prints every packet followed by a separator line.
type Output struct {
	mu  sync.Mutex
	w   io.Writer
	sep string
}

func NewOutput(w io.Writer, sep string) *Output {
	if sep == "" {
		sep = DefaultSeparator
	}
	return &Output{w: w, sep: sep}
}

func (o *Output) Name() string                        { return Name }
func (o *Output) Init(context.Context) error          { return nil }
func (o *Output) Begin(context.Context) error         { return nil }
func (o *Output) Finished(context.Context, int) error { return nil }
func (o *Output) Exit(context.Context) error          { return nil }

func (o *Output) Send(_ context.Context, packet string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, err := fmt.Fprintf(o.w, "%s\n%s\n", packet, o.sep)
	return err
}

func (o *Output) Help(...string) string {
	return "console: prints every packet to stdout followed by " + o.sep
}

// Input reads requests from r. A line is processed to completion before
// the next one is read. Outside of a context, "quit" ends Run.
type Input struct {
	r      io.Reader
	w      io.Writer
	d      channels.Dispatcher
	state  func() inputctx.State
	log    logx.Logger
	onQuit func()

	once  sync.Once
	lines chan string
}

func NewInput(r io.Reader, w io.Writer, d channels.Dispatcher, state func() inputctx.State, log logx.Logger) *Input {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Input{r: r, w: w, d: d, state: state, log: log, lines: make(chan string)}
}

// OnQuit installs the callback fired when the user quits from the prompt.
func (in *Input) OnQuit(fn func()) { in.onQuit = fn }

func (in *Input) Name() string               { return Name }
func (in *Input) Init(context.Context) error { return nil }
func (in *Input) Exit(context.Context) error { return nil }

func (in *Input) start() {
	in.once.Do(func() {
		go func() {
			defer close(in.lines)
			sc := bufio.NewScanner(in.r)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for sc.Scan() {
				in.lines <- sc.Text()
			}
			if err := sc.Err(); err != nil {
				in.log.Warn("console read failed", logx.Err(err))
			}
		}()
	})
}

// RawInput prints prompt and returns the next line. ok is false on EOF or
// when ctx is done.
func (in *Input) RawInput(ctx context.Context, prompt string) (line string, ok bool) {
	in.start()
	if prompt != "" {
		fmt.Fprint(in.w, prompt)
	}
	select {
	case <-ctx.Done():
		return "", false
	case line, ok = <-in.lines:
		return strings.TrimSpace(line), ok
	}
}

// Continue is the console continuation: anything but "00" proceeds.
func (in *Input) Continue(ctx context.Context) bool {
	line, ok := in.RawInput(ctx, continuePrompt)
	return ok && !strings.HasPrefix(line, breakWord)
}

func (in *Input) prompt() string {
	if in.state == nil {
		return "> "
	}
	if st := in.state(); st.Entered() {
		return "(" + st.Key + ") > "
	}
	return "> "
}

func (in *Input) Run(ctx context.Context) error {
	for {
		line, ok := in.RawInput(ctx, in.prompt())
		if !ok {
			return ctx.Err()
		}
		if line == "" {
			fmt.Fprintln(in.w, "[wearnotify]: empty request")
			continue
		}
		entered := in.state != nil && in.state().Entered()
		if !entered && strings.EqualFold(line, quitWord) {
			in.log.Info("quit requested from console")
			if in.onQuit != nil {
				in.onQuit()
			}
			return nil
		}
		res, err := in.d.Submit(ctx, line, in.Continue, dispatch.ProcessOptions{})
		if err != nil {
			in.log.Warn("console request failed", logx.Err(err))
			continue
		}
		in.log.Debug("console request done", logx.String("outcome", res.Outcome))
	}
}
