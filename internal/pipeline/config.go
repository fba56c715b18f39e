package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LimitType selects how max_packet_length is measured.
type LimitType string

const (
	LimitSymbol LimitType = "symbol"
	LimitBytes  LimitType = "bytes"
)

// AfterLimit is the policy applied when a batch checkpoint fires.
type AfterLimit string

const (
	AfterUserAction   AfterLimit = "user_action"
	AfterFinish       AfterLimit = "finish"
	AfterInitialDelay AfterLimit = "initial_delay"
	AfterSpecialDelay AfterLimit = "special_delay"
)

// Config describes how a response is cut into packets and paced.
//
// Start/Stop are optional window bounds (nil means open), Step is the window
// stride; a negative Step reverses the selection.
type Config struct {
	Start           *int
	Stop            *int
	Step            int
	MaxPacketLength int
	AllowPartNumber bool
	LimitType       LimitType
	ClearText       bool
	PacketsCount    int
	PacketDelay     time.Duration
	InitialDelay    time.Duration
	SpecialDelay    time.Duration
	AfterLimit      AfterLimit
}

// DefaultConfig mirrors the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		Step:            -1,
		MaxPacketLength: 126,
		LimitType:       LimitSymbol,
		PacketsCount:    16,
		PacketDelay:     1250 * time.Millisecond,
		InitialDelay:    800 * time.Millisecond,
		AfterLimit:      AfterUserAction,
	}
}

func (c Config) Validate() error {
	if c.MaxPacketLength <= 0 {
		return errors.New("pipeline: max_packet_length must be > 0")
	}
	switch c.LimitType {
	case LimitSymbol:
	case LimitBytes:
		// One UTF-8 encoded rune may take 4 bytes.
		if c.MaxPacketLength < 4 {
			return errors.New("pipeline: max_packet_length must be >= 4 for bytes limit")
		}
	default:
		return fmt.Errorf("pipeline: unknown limit_type %q", c.LimitType)
	}
	if c.PacketsCount <= 0 {
		return errors.New("pipeline: packets_count must be > 0")
	}
	if c.Step == 0 {
		return errors.New("pipeline: step must not be 0")
	}
	switch c.AfterLimit {
	case AfterUserAction, AfterFinish, AfterInitialDelay, AfterSpecialDelay:
	default:
		return fmt.Errorf("pipeline: unknown after_limit %q", c.AfterLimit)
	}
	if c.PacketDelay < 0 || c.InitialDelay < 0 || c.SpecialDelay < 0 {
		return errors.New("pipeline: delays must be >= 0")
	}
	return nil
}

// Override returns a copy of c with the recognized keys of m applied.
// Unknown keys and values of the wrong type are ignored. Delays accept
// either a number of milliseconds or a Go duration string.
func (c Config) Override(m map[string]any) Config {
	out := c
	for k, v := range m {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "start":
			out.Start = optInt(v, out.Start)
		case "stop":
			out.Stop = optInt(v, out.Stop)
		case "step":
			if n, ok := asInt(v); ok && n != 0 {
				out.Step = n
			}
		case "max_packet_length":
			if n, ok := asInt(v); ok && n > 0 {
				out.MaxPacketLength = n
			}
		case "allow_part_number":
			if b, ok := v.(bool); ok {
				out.AllowPartNumber = b
			}
		case "limit_type":
			if s, ok := v.(string); ok {
				out.LimitType = LimitType(strings.ToLower(s))
			}
		case "clear_text":
			if b, ok := v.(bool); ok {
				out.ClearText = b
			}
		case "packets_count":
			if n, ok := asInt(v); ok && n > 0 {
				out.PacketsCount = n
			}
		case "packet_delay":
			if d, ok := asDelay(v); ok {
				out.PacketDelay = d
			}
		case "initial_delay":
			if d, ok := asDelay(v); ok {
				out.InitialDelay = d
			}
		case "special_delay":
			if d, ok := asDelay(v); ok {
				out.SpecialDelay = d
			}
		case "after_limit":
			if s, ok := v.(string); ok {
				out.AfterLimit = AfterLimit(strings.ToLower(s))
			}
		}
	}
	if out.Validate() != nil {
		// An override must never leave the pipeline unusable.
		if out.LimitType != LimitSymbol && out.LimitType != LimitBytes {
			out.LimitType = c.LimitType
		}
		if out.LimitType == LimitBytes && out.MaxPacketLength < 4 {
			out.MaxPacketLength = c.MaxPacketLength
		}
		switch out.AfterLimit {
		case AfterUserAction, AfterFinish, AfterInitialDelay, AfterSpecialDelay:
		default:
			out.AfterLimit = c.AfterLimit
		}
	}
	return out
}

func optInt(v any, cur *int) *int {
	if v == nil {
		return nil
	}
	if n, ok := asInt(v); ok {
		return &n
	}
	return cur
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}

func asDelay(v any) (time.Duration, bool) {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d >= 0 {
			return d, true
		}
	}
	if n, ok := asInt(v); ok && n >= 0 {
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}
