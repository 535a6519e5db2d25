// Package citation rewrites superscript source markers in a streamed answer
// into stable bracketed citation indices.
package citation

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type State int

const (
	StateStreaming State = iota
	StateBufferingMarker
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateBufferingMarker:
		return "buffering_marker"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

var superscriptDigits = map[rune]byte{
	'⁰': '0', '¹': '1', '²': '2', '³': '3', '⁴': '4',
	'⁵': '5', '⁶': '6', '⁷': '7', '⁸': '8', '⁹': '9',
}

func IsSuperscriptDigit(r rune) bool {
	_, ok := superscriptDigits[r]
	return ok
}

// Remapper is single-use: one instance per answer stream, not safe for
// concurrent use.
type Remapper struct {
	sources []domain.SearchResult

	state     State
	pending   string
	assigned  map[string]int
	citations domain.CitationIndexMap
	next      int
}

// NewRemapper resolves markers against sources, where marker n names
// sources[n-1].
func NewRemapper(sources []domain.SearchResult) *Remapper {
	return &Remapper{
		sources:   sources,
		state:     StateStreaming,
		assigned:  make(map[string]int),
		citations: make(domain.CitationIndexMap),
		next:      1,
	}
}

func (r *Remapper) State() State {
	return r.state
}

// Feed consumes the next chunk and returns the text ready to emit. A
// superscript run at the end of the chunk is held back until the next chunk
// or Finish shows it is complete.
func (r *Remapper) Feed(chunk string) string {
	if r.state == StateDone {
		return chunk
	}

	text := r.pending + chunk
	r.pending = ""

	cut := trailingRunStart(text)
	if cut < len(text) {
		r.pending = text[cut:]
		text = text[:cut]
		r.state = StateBufferingMarker
	} else {
		r.state = StateStreaming
	}
	return r.rewrite(text)
}

// Finish flushes any buffered marker and ends the stream.
func (r *Remapper) Finish() string {
	if r.state == StateDone {
		return ""
	}
	out := r.rewrite(r.pending)
	r.pending = ""
	r.state = StateDone
	return out
}

// Citations returns the indices resolved so far against real sources.
func (r *Remapper) Citations() domain.CitationIndexMap {
	out := make(domain.CitationIndexMap, len(r.citations))
	for idx, src := range r.citations {
		out[idx] = src
	}
	return out
}

func (r *Remapper) rewrite(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))

	// Bytes are copied from text so invalid UTF-8 passes through unchanged.
	runStart := -1
	for i := 0; i < len(text); {
		ch, size := utf8.DecodeRuneInString(text[i:])
		if IsSuperscriptDigit(ch) {
			if runStart < 0 {
				runStart = i
			}
			i += size
			continue
		}
		if runStart >= 0 {
			b.WriteString(r.resolve(text[runStart:i]))
			runStart = -1
		}
		b.WriteString(text[i : i+size])
		i += size
	}
	if runStart >= 0 {
		b.WriteString(r.resolve(text[runStart:]))
	}
	return b.String()
}

// resolve maps a complete raw run to "[n]". Runs that name no known source
// are returned unchanged and consume no index.
func (r *Remapper) resolve(raw string) string {
	if idx, ok := r.assigned[raw]; ok {
		return formatIndex(idx)
	}

	block, ok := blockNumber(raw)
	if !ok || block < 1 || block > len(r.sources) {
		return raw
	}

	idx := r.next
	r.next++
	r.assigned[raw] = idx
	r.citations[idx] = r.sources[block-1]
	return formatIndex(idx)
}

func formatIndex(idx int) string {
	return "[" + strconv.Itoa(idx) + "]"
}

func blockNumber(raw string) (int, bool) {
	digits := make([]byte, 0, len(raw)/2)
	for _, ch := range raw {
		d, ok := superscriptDigits[ch]
		if !ok {
			return 0, false
		}
		digits = append(digits, d)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, false
	}
	return n, true
}

// trailingRunStart returns the byte offset where the final superscript run
// begins, or len(text) when text does not end in one. An incomplete UTF-8
// sequence at the end is held back with the run.
func trailingRunStart(text string) int {
	cut := len(text)
	for i := cut - 1; i >= 0 && i >= cut-utf8.UTFMax; i-- {
		if utf8.RuneStart(text[i]) {
			if !utf8.FullRuneInString(text[i:]) {
				cut = i
			}
			break
		}
	}
	for cut > 0 {
		ch, size := utf8.DecodeLastRuneInString(text[:cut])
		if !IsSuperscriptDigit(ch) {
			break
		}
		cut -= size
	}
	return cut
}
