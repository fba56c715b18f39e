package handler

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// DefaultQuitCommands leave an entered context.
var DefaultQuitCommands = []string{"quit", "exit", "exit()", "quit()"}

// Settings is the handler-declared config map.
type Settings struct {
	NoCache      bool
	EnterContext bool
	QuitCommands []string
	DenyMnemonic bool
	// PrefMnemonicMode switches the mnemonic mode while the handler holds
	// the context. Nil leaves the mode alone.
	PrefMnemonicMode *int
	// PipelineOverride is applied to every plain string response.
	PipelineOverride map[string]any
	// Mnemonics are handler-specific mnemonic mappings.
	Mnemonics map[string]string
}

// WithDefaults fills unset fields.
func (s Settings) WithDefaults() Settings {
	if len(s.QuitCommands) == 0 {
		s.QuitCommands = slices.Clone(DefaultQuitCommands)
	}
	return s
}

// IsQuit reports whether input is one of the quit commands.
func (s Settings) IsQuit(input string) bool {
	return slices.Contains(s.QuitCommands, strings.TrimSpace(input))
}

// MergeSettings overlays raw (a JSON object) onto base. Keys are matched
// case-insensitively in both NOCACHE and no_cache spelling; unknown keys and
// values of the wrong type are ignored.
func MergeSettings(base Settings, raw json.RawMessage) Settings {
	out := base
	out.QuitCommands = slices.Clone(base.QuitCommands)
	out.PipelineOverride = maps.Clone(base.PipelineOverride)
	out.Mnemonics = maps.Clone(base.Mnemonics)
	if len(raw) == 0 {
		return out.WithDefaults()
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out.WithDefaults()
	}
	for k, v := range m {
		switch strings.ReplaceAll(strings.ToLower(k), "_", "") {
		case "nocache":
			if b, ok := v.(bool); ok {
				out.NoCache = b
			}
		case "entercontext":
			if b, ok := v.(bool); ok {
				out.EnterContext = b
			}
		case "denymnemonic":
			if b, ok := v.(bool); ok {
				out.DenyMnemonic = b
			}
		case "quitcommands":
			if xs, ok := v.([]any); ok {
				out.QuitCommands = out.QuitCommands[:0]
				for _, x := range xs {
					if s, ok := x.(string); ok {
						out.QuitCommands = append(out.QuitCommands, s)
					}
				}
			}
		case "prefmnemmod", "prefmnemonicmode":
			if f, ok := v.(float64); ok {
				n := int(f)
				out.PrefMnemonicMode = &n
			}
		case "pipelineoverride":
			if o, ok := v.(map[string]any); ok {
				if out.PipelineOverride == nil {
					out.PipelineOverride = map[string]any{}
				}
				maps.Copy(out.PipelineOverride, o)
			}
		case "mnemonics":
			if o, ok := v.(map[string]any); ok {
				if out.Mnemonics == nil {
					out.Mnemonics = map[string]string{}
				}
				for mk, mv := range o {
					switch x := mv.(type) {
					case string:
						out.Mnemonics[mk] = x
					case float64:
						out.Mnemonics[mk] = strconv.FormatFloat(x, 'f', -1, 64)
					}
				}
			}
		}
	}
	return out.WithDefaults()
}
