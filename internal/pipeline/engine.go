package pipeline

import (
	"fmt"
	"strings"
)

// Engine arranges pre-generated packets into the emission order.
//
// groups holds one packet sequence per source string (a flat string source
// yields exactly one group); list reports whether the source was a list.
type Engine interface {
	Name() string
	Arrange(groups [][]string, list bool, cfg Config) []string
}

const (
	EngineBatched  = "batched"
	EngineWindowed = "windowed"
)

// EngineByName resolves a configured engine name. Empty selects batched.
func EngineByName(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EngineBatched, "dandelion":
		return Batched{}, nil
	case EngineWindowed, "rose":
		return Windowed{}, nil
	default:
		return nil, fmt.Errorf("pipeline: unknown engine %q", name)
	}
}

// Batched cuts all packets into batches of PacketsCount and applies the
// [start:stop] window, every |step|-th element and an optional reversal to
// each batch on its own.
type Batched struct{}

func (Batched) Name() string { return EngineBatched }

func (Batched) Arrange(groups [][]string, _ bool, cfg Config) []string {
	var all []string
	for _, g := range groups {
		all = append(all, g...)
	}
	size := max(cfg.PacketsCount, 1)
	stride := cfg.Step
	desc := stride < 0
	if desc {
		stride = -stride
	}

	out := make([]string, 0, len(all))
	for i := 0; i < len(all); i += size {
		batch := all[i:min(i+size, len(all))]
		lo := clampIndex(cfg.Start, len(batch), 0)
		hi := max(clampIndex(cfg.Stop, len(batch), len(batch)), lo)
		batch = batch[lo:hi]
		picked := make([]string, 0, len(batch))
		for j := 0; j < len(batch); j += stride {
			picked = append(picked, batch[j])
		}
		if desc {
			reverse(picked)
		}
		out = append(out, picked...)
	}
	return out
}

// Windowed applies the [start:stop:step] window once over the whole packet
// sequence of a flat string, or once per item of a list source.
type Windowed struct{}

func (Windowed) Name() string { return EngineWindowed }

func (Windowed) Arrange(groups [][]string, list bool, cfg Config) []string {
	if !list {
		var all []string
		for _, g := range groups {
			all = append(all, g...)
		}
		return window(all, cfg.Start, cfg.Stop, cfg.Step)
	}
	var out []string
	for _, g := range groups {
		out = append(out, window(g, cfg.Start, cfg.Stop, cfg.Step)...)
	}
	return out
}

// clampIndex resolves an optional slice bound for a positive stride:
// negatives count from the end, results are clamped into [0, n].
func clampIndex(p *int, n, def int) int {
	if p == nil {
		return def
	}
	i := *p
	if i < 0 {
		i += n
	}
	return min(max(i, 0), n)
}

// window selects s[start:stop:step] with the usual extended-slice rules,
// including a negative step walking backwards.
func window(s []string, start, stop *int, step int) []string {
	n := len(s)
	if step == 0 || n == 0 {
		return nil
	}
	var out []string
	if step > 0 {
		lo := clampIndex(start, n, 0)
		hi := clampIndex(stop, n, n)
		for i := lo; i < hi; i += step {
			out = append(out, s[i])
		}
		return out
	}

	lo := n - 1
	if start != nil {
		lo = *start
		if lo < 0 {
			lo += n
		}
		lo = min(max(lo, -1), n-1)
	}
	hi := -1
	if stop != nil {
		hi = *stop
		if hi < 0 {
			hi += n
		}
		hi = min(max(hi, -1), n-1)
	}
	for i := lo; i > hi; i += step {
		out = append(out, s[i])
	}
	return out
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
