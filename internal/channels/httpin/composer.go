package httpin

import (
	"context"
	"strconv"
	"sync"

	"wearnotify/internal/dispatch"
	"wearnotify/pkg/logx"
)

// Composer keys.
const (
	KeyRoll  = "1"
	KeyFlush = "4"
	KeyPush  = "5"
)

// nullToken is a roll value that pushes nothing.
const nullToken = "null"

// Notifier shows a short status line on the output channels.
type Notifier func(ctx context.Context, text string) error

// Composer builds a request from three keys. Roll cycles the candidate
// token of the current mode, push appends it to the buffer (or posts the
// buffer when no token is pending) and flush switches mode or clears the
// buffer. While a delivery waits at a checkpoint, push continues it and
// flush breaks it.
type Composer struct {
	mu     sync.Mutex
	gate   *dispatch.Gate
	notify Notifier
	post   func(text string) bool
	log    logx.Logger

	mode       int
	cursor     int
	tmp        string
	hasTmp     bool
	buffer     string
	history    []string
	extraFlush bool
}

type rollMode struct {
	name  string
	items func(c *Composer) []string
}

var rollModes = []rollMode{
	{name: "numberroll", items: func(*Composer) []string { return numberRoll }},
	{name: "reverse_numberroll", items: func(*Composer) []string { return reverseRoll }},
	{name: "previous_roll", items: func(c *Composer) []string { return c.history }},
}

var numberRoll, reverseRoll = func() ([]string, []string) {
	var fwd []string
	for i := 1; i < 10; i++ {
		fwd = append(fwd, strconv.Itoa(i))
	}
	fwd = append(fwd, "0", " ", nullToken)
	rev := []string{nullToken, " ", "0"}
	for i := 10; i > 1; i-- {
		rev = append(rev, strconv.Itoa(i))
	}
	return fwd, rev
}()

func NewComposer(gate *dispatch.Gate, notify Notifier, post func(string) bool, log logx.Logger) *Composer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Composer{gate: gate, notify: notify, post: post, log: log, history: []string{""}}
}

// Handle applies one key. Unknown keys report false.
func (c *Composer) Handle(ctx context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch key {
	case KeyRoll:
		c.roll(ctx)
	case KeyFlush:
		c.flush(ctx)
	case KeyPush:
		c.push(ctx)
	default:
		return false
	}
	return true
}

// Buffer returns the composed text so far.
func (c *Composer) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer
}

func (c *Composer) say(ctx context.Context, text string) {
	if c.notify == nil {
		return
	}
	if err := c.notify(ctx, text); err != nil {
		c.log.Warn("composer notify failed", logx.Err(err))
	}
}

func (c *Composer) roll(ctx context.Context) {
	if c.extraFlush {
		c.extraFlush = false
		c.switchMode(ctx)
		return
	}
	items := rollModes[c.mode].items(c)
	if len(items) == 0 {
		return
	}
	if c.cursor >= len(items) {
		c.cursor = 0
	}
	c.tmp, c.hasTmp = items[c.cursor], true
	c.cursor++
	c.history[0] = c.tmp
	c.say(ctx, "Temp input: "+c.tmp)
}

func (c *Composer) push(ctx context.Context) {
	if c.gate != nil && c.gate.Release(true) {
		c.say(ctx, "Released user action")
		return
	}
	switch {
	case c.hasTmp:
		if c.tmp != nullToken {
			c.buffer += c.tmp
		}
		c.say(ctx, "Typed: "+c.tmp+" | all="+c.buffer)
		c.history = append(c.history[:1], append([]string{c.buffer}, c.history[1:]...)...)
		c.tmp, c.hasTmp = "", false
	case c.buffer != "":
		c.say(ctx, "Posting...")
		if !c.post(c.buffer) {
			c.say(ctx, "Something bad happened, request dropped")
		}
		c.buffer = ""
	default:
		c.say(ctx, "User action lock isn't exist")
	}
}

func (c *Composer) flush(ctx context.Context) {
	if c.gate != nil && c.gate.Release(false) {
		c.say(ctx, "Aborted user action")
		return
	}
	if c.buffer == "" {
		c.switchMode(ctx)
		return
	}
	if !c.extraFlush {
		c.extraFlush = true
		c.say(ctx, "What do you want? Tap input to change the input mode or flush to clean the buffer")
		return
	}
	c.extraFlush = false
	c.buffer, c.tmp, c.hasTmp = "", "", false
	c.say(ctx, "Cleaned buffers")
}

func (c *Composer) switchMode(ctx context.Context) {
	c.mode = (c.mode + 1) % len(rollModes)
	c.cursor = 0
	c.say(ctx, "Selected mode: "+rollModes[c.mode].name)
}
