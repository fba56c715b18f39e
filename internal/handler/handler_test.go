package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"wearnotify/internal/cache"
	"wearnotify/pkg/logx"
)

type stub struct {
	Base
	name     string
	settings Settings
	resp     any
	panicMsg string
	ooc      bool
	inits    int
	raw      json.RawMessage
}

func (s *stub) Name() string { return s.name }
func (s *stub) Init(ctx context.Context, deps Deps) error {
	s.inits++
	if s.panicMsg == "init" {
		return errors.New("boom")
	}
	return nil
}
func (s *stub) Handle(ctx context.Context, body string) (any, error) {
	if s.panicMsg != "" && s.panicMsg != "init" {
		panic(s.panicMsg)
	}
	return s.resp, nil
}
func (s *stub) HandleOutOfContext(ctx context.Context, body string) (any, error) {
	s.ooc = true
	return "ooc:" + body, nil
}
func (s *stub) Settings() Settings { return s.settings }
func (s *stub) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	s.raw = raw
	return nil
}

func TestSetRejectsDuplicates(t *testing.T) {
	set := NewSet(logx.Nop())
	if err := set.Register(&stub{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := set.Register(&stub{name: "a"}); err == nil {
		t.Fatalf("duplicate accepted")
	}
	if err := set.Register(&stub{name: " "}); err == nil {
		t.Fatalf("empty name accepted")
	}
}

func TestSetInitDropsFailingHandler(t *testing.T) {
	set := NewSet(logx.Nop())
	good, bad := &stub{name: "good"}, &stub{name: "bad", panicMsg: "init"}
	if err := set.Register(good, bad); err != nil {
		t.Fatal(err)
	}
	set.InitAll(context.Background(), Deps{})
	if !set.Has("good") || set.Has("bad") {
		t.Fatalf("names after init: %v", set.Names())
	}
}

func TestInvokeRecoversPanics(t *testing.T) {
	h := &stub{name: "p", panicMsg: "kaboom"}
	resp, err := Invoke(context.Background(), logx.Nop(), h, "x", false)
	if err == nil || resp != nil {
		t.Fatalf("expected error from panic, got %v %v", resp, err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("panic value lost: %v", err)
	}

	h2 := &stub{name: "o", resp: "normal"}
	resp, err = Invoke(context.Background(), logx.Nop(), h2, "x", true)
	if err != nil || resp != "ooc:x" || !h2.ooc {
		t.Fatalf("ooc entrypoint not used: %v %v", resp, err)
	}
}

func TestMergeSettingsLenient(t *testing.T) {
	base := Settings{NoCache: true}
	raw := json.RawMessage(`{"ENTER_CONTEXT":true,"nocache":false,"QUIT_COMMANDS":["bye",3],"PREF_MNEMMOD":1,"unknown":{"x":1},"DENY_MNEMONIC":"yes","mnemonics":{"1":"000 hi","2":7}}`)
	got := MergeSettings(base, raw)
	if !got.EnterContext || got.NoCache {
		t.Fatalf("flags not applied: %+v", got)
	}
	if len(got.QuitCommands) != 1 || got.QuitCommands[0] != "bye" {
		t.Fatalf("quit commands: %v", got.QuitCommands)
	}
	if got.PrefMnemonicMode == nil || *got.PrefMnemonicMode != 1 {
		t.Fatalf("pref mnemonic mode not set")
	}
	if got.DenyMnemonic {
		t.Fatalf("wrongly typed value must be ignored")
	}
	if got.Mnemonics["1"] != "000 hi" || got.Mnemonics["2"] != "7" {
		t.Fatalf("mnemonics: %v", got.Mnemonics)
	}

	def := MergeSettings(Settings{}, json.RawMessage(`not json`))
	if !def.IsQuit("exit()") || def.IsQuit("stay") {
		t.Fatalf("default quit commands not applied: %v", def.QuitCommands)
	}
}

func TestSetConfigureOverlaysSettings(t *testing.T) {
	set := NewSet(logx.Nop())
	h := &stub{name: "weather", settings: Settings{NoCache: false}}
	if err := set.Register(h); err != nil {
		t.Fatal(err)
	}
	set.Configure(context.Background(), map[string]json.RawMessage{
		"weather": json.RawMessage(`{"NOCACHE":true}`),
		"ghost":   json.RawMessage(`{"NOCACHE":true}`),
	})
	if !set.Settings(h).NoCache {
		t.Fatalf("config section not applied")
	}
	if string(h.raw) != `{"NOCACHE":true}` {
		t.Fatalf("OnConfigChange not called: %s", h.raw)
	}
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	modules := cache.NewModuleCache(t.TempDir(), logx.Nop())
	if err := modules.Put(File, "notes", []byte("one\n\ttwo\r\nthree")); err != nil {
		t.Fatal(err)
	}
	deps := Deps{
		Modules: modules,
		Lookup: func(name string, args ...string) (string, bool) {
			if name == "echo" {
				return "echo help " + strings.Join(args, ","), true
			}
			return "", false
		},
	}
	byName := map[string]Handler{}
	for _, h := range Builtins() {
		if err := h.Init(ctx, deps); err != nil {
			t.Fatal(err)
		}
		byName[h.Name()] = h
	}

	cases := []struct {
		name, body string
		want       any
	}{
		{Idle, "hello", "hello"},
		{Idle, "", nil},
		{File, " notes ", "one|two|three"},
		{File, "missing", "File not found"},
		{Info, "echo a b", "echo help a,b"},
		{Info, "", noHelp},
		{Info, "nobody", "No help for nobody"},
	}
	for _, c := range cases {
		got, err := byName[c.name].Handle(ctx, c.body)
		if err != nil {
			t.Fatalf("%s(%q): %v", c.name, c.body, err)
		}
		if got != c.want {
			t.Fatalf("%s(%q) = %#v want %#v", c.name, c.body, got, c.want)
		}
	}
	if !byName[Idle].Settings().EnterContext || !IsBuiltin(File) || IsBuiltin("echo") {
		t.Fatalf("builtin metadata wrong")
	}
}
