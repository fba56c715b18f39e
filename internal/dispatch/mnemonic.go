package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"wearnotify/internal/handler"
	"wearnotify/pkg/logx"
)

// Mnemonic modes. In ModeCompose digit input drives the composer of an
// input channel; in ModeDirect digits are looked up as mnemonics.
const (
	ModeDirect  = 0
	ModeCompose = 1
)

// Mnemonics maps short inputs (usually digits) to full requests and tracks
// the mnemonic mode.
type Mnemonics struct {
	mu     sync.Mutex
	path   string
	log    logx.Logger
	global map[string]string

	def  int
	mode int
	mem  int
}

// LoadMnemonics reads the global table from path. A missing file yields an
// empty table.
func LoadMnemonics(path string, defaultMode int, log logx.Logger) (*Mnemonics, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Mnemonics{
		path: path,
		log:  log.With(logx.String("component", "mnemonics")),
		def:  defaultMode,
		mode: defaultMode,
		mem:  defaultMode,
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload rereads the global table.
func (m *Mnemonics) Reload() error {
	table := map[string]string{}
	if m.path != "" {
		b, err := os.ReadFile(m.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return err
		default:
			var raw map[string]any
			if err := json.Unmarshal(b, &raw); err != nil {
				return fmt.Errorf("mnemonics %s: %w", m.path, err)
			}
			for k, v := range raw {
				switch x := v.(type) {
				case string:
					table[k] = x
				case float64:
					table[k] = strconv.FormatFloat(x, 'f', -1, 64)
				default:
					m.log.Warn("mnemonic ignored", logx.String("key", k))
				}
			}
		}
	}
	m.mu.Lock()
	m.global = table
	m.mu.Unlock()
	m.log.Debug("mnemonics loaded", logx.Int("count", len(table)))
	return nil
}

// Set adds or replaces a global mnemonic in memory.
func (m *Mnemonics) Set(key, request string) {
	m.mu.Lock()
	m.global[key] = request
	m.mu.Unlock()
}

// Map resolves input. When a handler holds the context its settings are
// consulted first: DenyMnemonic disables mapping, its own mnemonics win
// over the global ones.
func (m *Mnemonics) Map(input string, active *handler.Settings) (string, bool) {
	if active != nil {
		if active.DenyMnemonic {
			return "", false
		}
		if v, ok := active.Mnemonics[input]; ok {
			return v, true
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.global[input]
	return v, ok
}

func (m *Mnemonics) Mode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Mnemonics) SetMode(mode int) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	m.log.Info("mnemonic mode changed", logx.Int("mode", mode))
}

// Toggle flips between ModeDirect and ModeCompose and returns the new mode.
func (m *Mnemonics) Toggle() int {
	m.mu.Lock()
	if m.mode == ModeCompose {
		m.mode = ModeDirect
	} else {
		m.mode = ModeCompose
	}
	mode := m.mode
	m.mu.Unlock()
	m.log.Info("mnemonic mode changed", logx.Int("mode", mode))
	return mode
}

// transition follows a context change. A handler preferring a mode gets it
// and the previous mode is remembered; any other transition restores the
// remembered mode.
func (m *Mnemonics) transition(pref *int) {
	m.mu.Lock()
	if pref != nil {
		m.mem = m.mode
		m.mode = *pref
	} else {
		m.mode = m.mem
		m.mem = m.def
	}
	mode := m.mode
	m.mu.Unlock()
	m.log.Debug("mnemonic mode follows context", logx.Int("mode", mode))
}
