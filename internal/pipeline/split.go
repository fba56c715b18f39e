package pipeline

import (
	"strconv"
	"unicode/utf8"
)

// Splitter cuts one string into bounded packets.
type Splitter func(s string, cfg Config) []string

// SplitterFor returns the splitter for the configured limit type.
func SplitterFor(t LimitType) Splitter {
	if t == LimitBytes {
		return SplitBytes
	}
	return SplitSymbols
}

func partNumber(cfg Config, n int) string {
	if !cfg.AllowPartNumber {
		return ""
	}
	return strconv.Itoa(n) + "."
}

// SplitSymbols cuts s into runs of MaxPacketLength runes. With part numbers
// enabled every run shrinks by the length of its "N." prefix; a remainder
// that cannot take its prefix is split once more.
func SplitSymbols(s string, cfg Config) []string {
	src := []rune(s)
	maxLen := cfg.MaxPacketLength
	if len(src) == 0 || maxLen <= 0 {
		return nil
	}

	full := len(src) / maxLen
	out := make([]string, 0, full+2)
	end := 0
	i := 0
	for ; i < full; i++ {
		pn := partNumber(cfg, i+1)
		room := maxLen - len(pn)
		if room <= 0 {
			// Prefix alone fills the packet; send the run unnumbered.
			pn, room = "", maxLen
		}
		out = append(out, pn+string(src[end:end+room]))
		end += room
	}

	rest := len(src) - end
	if rest == 0 {
		return out
	}
	pn := partNumber(cfg, i+1)
	switch {
	case rest+len(pn) <= maxLen:
		return append(out, pn+string(src[end:]))
	case rest <= maxLen && rest > len(pn) && len(partNumber(cfg, i+2))+len(pn) <= maxLen:
		head := rest - len(pn)
		out = append(out, pn+string(src[end:end+head]))
		return append(out, partNumber(cfg, i+2)+string(src[end+head:]))
	}

	// Long tails (many numbered parts) keep cutting until nothing is left.
	n := i + 1
	for end < len(src) {
		pn := partNumber(cfg, n)
		room := maxLen - len(pn)
		if room <= 0 {
			pn, room = "", maxLen
		}
		stop := min(end+room, len(src))
		out = append(out, pn+string(src[end:stop]))
		end = stop
		n++
	}
	return out
}

// SplitBytes greedily packs UTF-8 encoded runes into packets of at most
// MaxPacketLength bytes, never splitting inside a rune.
func SplitBytes(s string, cfg Config) []string {
	maxLen := cfg.MaxPacketLength
	if s == "" || maxLen <= 0 {
		return nil
	}
	var out []string
	part := 1
	for len(s) > 0 {
		pn := partNumber(cfg, part)
		n := fitBytes(s, maxLen-len(pn))
		if n == 0 && pn != "" {
			pn = ""
			n = fitBytes(s, maxLen)
		}
		if n == 0 {
			// A single rune wider than the limit; emit it alone.
			_, n = utf8.DecodeRuneInString(s)
		}
		out = append(out, pn+s[:n])
		s = s[n:]
		part++
	}
	return out
}

// fitBytes returns the byte length of the longest rune-aligned prefix of s
// that fits into limit bytes.
func fitBytes(s string, limit int) int {
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > limit {
			break
		}
		n += size
	}
	return n
}
