// Package diff renders character-level differences between two single-line strings using Telegram
// HTML markup.
package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/0x0BSoD/feedRelay/internal/markup"
)

const (
	openMark  = "<b><u>"
	closeMark = "</u></b>"
)

// Run is an inclusive range of rune positions.
type Run struct {
	Start int
	End   int
}

// Highlight escapes old and new for HTML and marks, in each of them, the character runs the other one
// does not contain. Escaped characters are compared and marked as a whole, so an entity is never split
// by a mark. Both results are HTML-escaped even where nothing is marked, so Highlight(s, s) returns
// s unchanged only when s contains none of '&', '<' and '>'. The results are safe to send with
// Telegram's HTML parse mode.
func Highlight(old, new string) (string, string) {
	oldTokens := escaped(old)
	newTokens := escaped(new)

	removed := removals(oldTokens, newTokens)
	added := removals(newTokens, oldTokens)

	return mark(oldTokens, removed), mark(newTokens, added)
}

// Removals returns the runs of positions in first that a character edit script from first to second
// deletes, in ascending order.
func Removals(first, second []rune) []Run {
	return removals(chars(first), chars(second))
}

func removals(first, second []string) []Run {
	m := difflib.NewMatcher(first, second)

	var removed []int
	for _, op := range m.GetOpCodes() {
		if op.Tag != 'd' && op.Tag != 'r' {
			continue
		}
		for i := op.I1; i < op.I2; i++ {
			removed = append(removed, i)
		}
	}

	return group(removed)
}

// group splits ascending positions into maximal runs of consecutive values.
func group(positions []int) []Run {
	var runs []Run
	for i, p := range positions {
		if i > 0 && p-positions[i-1] == 1 {
			runs[len(runs)-1].End = p
			continue
		}
		runs = append(runs, Run{Start: p, End: p})
	}
	return runs
}

func mark(src []string, runs []Run) string {
	var (
		b    strings.Builder
		next int
	)

	for _, r := range runs {
		writeAll(&b, src[next:r.Start])
		b.WriteString(openMark)
		writeAll(&b, src[r.Start:r.End+1])
		b.WriteString(closeMark)
		next = r.End + 1
	}
	writeAll(&b, src[next:])

	return b.String()
}

func writeAll(b *strings.Builder, tokens []string) {
	for _, t := range tokens {
		b.WriteString(t)
	}
}

func chars(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// escaped splits s into characters, each already escaped for HTML.
func escaped(s string) []string {
	out := chars([]rune(s))
	for i, c := range out {
		out[i] = markup.EscapeHTML(c)
	}
	return out
}
