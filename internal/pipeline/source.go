package pipeline

// Source is the payload handed to the pipeline: a flat string, a list of
// strings, or an opaque value that bypasses packetization entirely.
type Source struct {
	text   string
	items  []string
	kind   sourceKind
	opaque any
}

type sourceKind int

const (
	sourceEmpty sourceKind = iota
	sourceText
	sourceList
	sourceOpaque
)

func Text(s string) Source         { return Source{text: s, kind: sourceText} }
func List(items ...string) Source  { return Source{items: append([]string(nil), items...), kind: sourceList} }
func Opaque(v any) Source          { return Source{opaque: v, kind: sourceOpaque} }
func (s Source) IsEmpty() bool     { return s.kind == sourceEmpty }
func (s Source) IsList() bool      { return s.kind == sourceList }
func (s Source) Value() any        { return s.opaque }
func (s Source) TextValue() string { return s.text }
func (s Source) Items() []string   { return append([]string(nil), s.items...) }

// IsSpecific reports whether the source is an opaque value that channels
// must receive as-is, without chunking.
func (s Source) IsSpecific() bool { return s.kind == sourceOpaque }

// texts returns the strings to packetize, one per list item.
func (s Source) texts() []string {
	switch s.kind {
	case sourceText:
		return []string{s.text}
	case sourceList:
		return s.items
	default:
		return nil
	}
}

func (s Source) mapText(fn func(string) string) Source {
	switch s.kind {
	case sourceText:
		return Text(fn(s.text))
	case sourceList:
		out := make([]string, len(s.items))
		for i, it := range s.items {
			out[i] = fn(it)
		}
		return Source{items: out, kind: sourceList}
	default:
		return s
	}
}
