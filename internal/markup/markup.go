// Package markup converts the constrained markdown subset produced by the answer service into
// display markup. The conversion is a fixed pipeline: fenced code blocks are extracted first and
// restored last, so no other transform can ever alter code content; block-level line transforms,
// table detection, and paragraph grouping run over the remaining lines; inline transforms run over
// paragraph, heading, and list text only. Rendering is pure and deterministic, and all emitted
// text is HTML-escaped so the output is always well-formed.
package markup

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const fenceMarker = "```"

var (
	boldRe        = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRe      = regexp.MustCompile(`\*([^*]+?)\*`)
	codeRe        = regexp.MustCompile("`([^`]+?)`")
	linkRe        = regexp.MustCompile(`\[([^\]]+?)\]\(([^)]+?)\)`)
	orderedItemRe = regexp.MustCompile(`^\d+\.\s+(.*)$`)
	placeholderRe = regexp.MustCompile(`^\x00fence-\d+\x00$`)
)

// Render converts text containing the supported markdown subset into HTML. Empty input is
// returned unchanged. Given the same input, the output is always identical; the function holds no
// state across calls.
func Render(text string) string {
	if text == "" {
		return text
	}

	stripped, fences := extractFences(text)

	var blocks []string
	var para []string
	flush := func() {
		if len(para) == 0 {
			return
		}
		p := strings.Join(para, " ")
		para = para[:0]
		if p == "" {
			return
		}
		blocks = append(blocks, "<p>"+applyInline(p)+"</p>")
	}

	lines := strings.Split(stripped, "\n")
	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])

		switch {
		case trimmed == "":
			flush()
		case placeholderRe.MatchString(trimmed):
			// A fenced block stands on its own; restoring it inside a paragraph would
			// produce malformed markup.
			flush()
			blocks = append(blocks, trimmed)
		case headingRank(trimmed) > 0:
			flush()
			rank := headingRank(trimmed)
			body := strings.TrimSpace(trimmed[rank+1:])
			blocks = append(blocks, fmt.Sprintf("<h%d>%s</h%d>", rank, applyInline(body), rank))
		case isListItem(trimmed):
			flush()
			var list string
			list, i = parseList(lines, i)
			blocks = append(blocks, list)
		case startsTable(lines, i):
			flush()
			var table string
			table, i = parseTable(lines, i)
			blocks = append(blocks, table)
		default:
			para = append(para, trimmed)
		}
	}
	flush()

	out := strings.Join(blocks, "\n")
	for i, fence := range fences {
		code := "<pre><code>" + html.EscapeString(fence) + "</code></pre>"
		out = strings.Replace(out, fencePlaceholder(i), code, 1)
	}
	return out
}

func fencePlaceholder(i int) string {
	return fmt.Sprintf("\x00fence-%d\x00", i)
}

// extractFences replaces every complete fenced block with an opaque placeholder token unique per
// block and returns the extracted contents. A marker only opens a block at the start of a line,
// and only a line holding nothing but the marker closes one, so each placeholder stands alone on
// its line and restoration can never land inside another block. The opening fence's info string
// and the delimiter lines themselves are stripped; the inner text is kept byte-identical. A
// mid-line or unpaired fence marker is left literal.
func extractFences(text string) (string, []string) {
	var fences []string
	var out strings.Builder
	for {
		start := fenceAt(text, 0, false)
		if start < 0 {
			break
		}
		end := fenceAt(text, start+len(fenceMarker), true)
		if end < 0 {
			break
		}
		inner := text[start+len(fenceMarker) : end]
		if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
			inner = inner[nl+1:]
		}
		out.WriteString(text[:start])
		out.WriteString(fencePlaceholder(len(fences)))
		fences = append(fences, strings.TrimSuffix(inner, "\n"))
		text = strings.TrimLeft(text[end+len(fenceMarker):], " \t")
	}
	out.WriteString(text)
	return out.String(), fences
}

// fenceAt returns the index of the next fence marker at or after from that begins a line, or -1.
// When closing is true the marker must also be followed by nothing but spaces or tabs on its line.
func fenceAt(text string, from int, closing bool) int {
	for {
		idx := strings.Index(text[from:], fenceMarker)
		if idx < 0 {
			return -1
		}
		idx += from
		from = idx + len(fenceMarker)
		if idx > 0 && text[idx-1] != '\n' {
			continue
		}
		if closing && !blankToEOL(text, idx+len(fenceMarker)) {
			continue
		}
		return idx
	}
}

func blankToEOL(text string, i int) bool {
	for ; i < len(text) && text[i] != '\n'; i++ {
		if text[i] != ' ' && text[i] != '\t' {
			return false
		}
	}
	return true
}

// headingRank reports the heading level of a line, or 0 when the line is not a heading. Only the
// levels actually emitted by the answer service are recognized.
func headingRank(line string) int {
	switch {
	case strings.HasPrefix(line, "#### "):
		return 4
	case strings.HasPrefix(line, "### "):
		return 3
	case strings.HasPrefix(line, "## "):
		return 2
	}
	return 0
}

func isListItem(line string) bool {
	return strings.HasPrefix(line, "- ") || orderedItemRe.MatchString(line)
}

// parseList consumes a run of consecutive list-item lines starting at index i and returns the
// list markup along with the index of the last consumed line. Dash items form an unordered list,
// numbered items an ordered one; a marker change ends the run.
func parseList(lines []string, i int) (string, int) {
	ordered := orderedItemRe.MatchString(strings.TrimSpace(lines[i]))
	tag := "ul"
	if ordered {
		tag = "ol"
	}

	var sb strings.Builder
	sb.WriteString("<" + tag + ">")
	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		var body string
		switch {
		case !ordered && strings.HasPrefix(trimmed, "- "):
			body = trimmed[2:]
		case ordered && orderedItemRe.MatchString(trimmed):
			body = orderedItemRe.FindStringSubmatch(trimmed)[1]
		default:
			sb.WriteString("</" + tag + ">")
			return sb.String(), i - 1
		}
		sb.WriteString("<li>" + applyInline(body) + "</li>")
	}
	sb.WriteString("</" + tag + ">")
	return sb.String(), i - 1
}

// startsTable reports whether the line at index i opens a table, which requires a pipe-delimited
// header row immediately followed by a valid separator row. A pipe-delimited line without a
// separator row below it is left as literal text.
func startsTable(lines []string, i int) bool {
	if !strings.Contains(lines[i], "|") {
		return false
	}
	return i+1 < len(lines) && isSeparatorRow(strings.TrimSpace(lines[i+1]))
}

// isSeparatorRow reports whether a line consists solely of dashes, colons, pipes, and spaces,
// with at least one dash and one pipe.
func isSeparatorRow(line string) bool {
	if !strings.Contains(line, "-") || !strings.Contains(line, "|") {
		return false
	}
	for _, r := range line {
		switch r {
		case '-', ':', '|', ' ', '\t':
		default:
			return false
		}
	}
	return true
}

// parseTable consumes a header row, its separator row, and zero or more following pipe-delimited
// body rows starting at index i, returning the table markup and the index of the last consumed
// line.
func parseTable(lines []string, i int) (string, int) {
	var sb strings.Builder
	sb.WriteString("<table><thead><tr>")
	for _, cell := range splitCells(lines[i]) {
		sb.WriteString("<th>" + html.EscapeString(cell) + "</th>")
	}
	sb.WriteString("</tr></thead><tbody>")

	i++ // separator row
	for i+1 < len(lines) {
		next := strings.TrimSpace(lines[i+1])
		if next == "" || !strings.Contains(next, "|") || placeholderRe.MatchString(next) {
			break
		}
		i++
		sb.WriteString("<tr>")
		for _, cell := range splitCells(lines[i]) {
			sb.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</tbody></table>")
	return sb.String(), i
}

// splitCells splits a pipe-delimited row into trimmed cell values, ignoring the optional leading
// and trailing pipes.
func splitCells(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	row = strings.TrimSuffix(row, "|")
	parts := strings.Split(row, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// applyInline escapes the text and applies the inline transforms in fixed order: bold, italic,
// inline code, and links opening in a new context. Matching is non-greedy, left-to-right,
// first-fit; overlapping or unmatched markers stay literal.
func applyInline(s string) string {
	s = html.EscapeString(s)
	s = boldRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = italicRe.ReplaceAllString(s, "<em>$1</em>")
	s = codeRe.ReplaceAllString(s, "<code>$1</code>")
	s = linkRe.ReplaceAllString(s, `<a href="$2" target="_blank" rel="noopener noreferrer">$1</a>`)
	return s
}
