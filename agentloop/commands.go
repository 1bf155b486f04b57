package agentloop

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-shellwords"
)

// CommandKind identifies one of the six command invocation forms.
type CommandKind string

const (
	CommandPython    CommandKind = "python_exec"
	CommandTerminal  CommandKind = "terminal_exec"
	CommandGitList   CommandKind = "git_list"
	CommandGitRead   CommandKind = "git_read"
	CommandGitWrite  CommandKind = "git_write"
	CommandGitCommit CommandKind = "git_commit"
)

// markers are the line prefixes recognized at column zero. Matching is
// case-sensitive and the marker must be followed by a space.
var markers = []struct {
	prefix string
	kind   CommandKind
}{
	{"!python", CommandPython},
	{"!terminal", CommandTerminal},
	{"!git_list_files", CommandGitList},
	{"!git_get_file_contents", CommandGitRead},
	{"!git_update_file_contents", CommandGitWrite},
	{"!git_make_commit", CommandGitCommit},
}

const fence = "```"

// Token is one marker occurrence found by Lex, before argument parsing.
type Token struct {
	Kind   CommandKind
	Fenced bool
	Arg    string // text following the marker; the whole body for fenced blocks
	Raw    string // source text the token was read from
	Offset int    // byte offset of Raw in the source
}

// CommandCall is a parsed, executable command invocation.
type CommandCall struct {
	Kind   CommandKind
	Args   []string
	Input  string // argument text as written, trimmed
	Raw    string
	Offset int
	Fenced bool

	// Ambiguous marks the placeholder that stands in for conflicting
	// update or commit invocations. It carries no Args and is never executed.
	Ambiguous bool
}

// rank is the precedence used by OrderByKind.
func (c CommandCall) rank() int {
	switch c.Kind {
	case CommandPython:
		if c.Fenced {
			return 0
		}
		return 1
	case CommandTerminal:
		return 2
	case CommandGitList:
		return 3
	case CommandGitRead:
		return 4
	case CommandGitWrite:
		return 5
	default:
		return 6
	}
}

// Ordering selects how calls of different kinds are sequenced.
type Ordering int

const (
	// OrderByKind runs fenced python, inline python, terminal, list, read,
	// write, then commit. Calls of the same kind keep their textual order.
	OrderByKind Ordering = iota
	// OrderByPosition runs calls in the order they appear in the text.
	OrderByPosition
)

func (o Ordering) String() string {
	if o == OrderByPosition {
		return "position"
	}
	return "kind"
}

// ParseOrdering accepts "kind" or "position".
func ParseOrdering(s string) (Ordering, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "kind":
		return OrderByKind, nil
	case "position":
		return OrderByPosition, nil
	default:
		return OrderByKind, fmt.Errorf("unknown command ordering %q", s)
	}
}

type sourceLine struct {
	text   string
	offset int
}

func splitLines(text string) []sourceLine {
	parts := strings.Split(text, "\n")
	lines := make([]sourceLine, len(parts))
	offset := 0
	for i, p := range parts {
		lines[i] = sourceLine{text: strings.TrimSuffix(p, "\r"), offset: offset}
		offset += len(p) + 1
	}
	return lines
}

func matchMarker(line string) (CommandKind, string, bool) {
	for _, m := range markers {
		if strings.HasPrefix(line, m.prefix+" ") {
			return m.kind, line[len(m.prefix)+1:], true
		}
	}
	return "", "", false
}

// matchFencedMarker recognizes the markers that may open a fenced block. A
// bare marker with the body on following lines is allowed here.
func matchFencedMarker(line string) (CommandKind, string, bool) {
	line = strings.TrimRight(line, " \t")
	for _, m := range []struct {
		prefix string
		kind   CommandKind
	}{{"!python", CommandPython}, {"!git_update_file_contents", CommandGitWrite}} {
		if line == m.prefix {
			return m.kind, "", true
		}
		if strings.HasPrefix(line, m.prefix+" ") {
			return m.kind, line[len(m.prefix)+1:], true
		}
	}
	return "", "", false
}

// lexFence tries to read a fenced python or update block opening at line i.
// It returns the token and the index of the closing fence line.
func lexFence(text string, lines []sourceLine, i int) (Token, int, bool) {
	open := strings.TrimRight(lines[i].text, " \t")
	if !strings.HasPrefix(open, fence) {
		return Token{}, 0, false
	}
	rest := strings.TrimSpace(open[len(fence):])

	var (
		kind       CommandKind
		first      string
		markerLine int
		ok         bool
	)
	if kind, first, ok = matchFencedMarker(rest); ok {
		markerLine = i
	} else if !strings.ContainsAny(rest, " \t") && i+1 < len(lines) {
		if kind, first, ok = matchFencedMarker(lines[i+1].text); !ok {
			return Token{}, 0, false
		}
		markerLine = i + 1
	} else {
		return Token{}, 0, false
	}

	raw := func(j int) string {
		return text[lines[i].offset : lines[j].offset+len(lines[j].text)]
	}

	// ``` !python print(1) ```
	if body, found := strings.CutSuffix(strings.TrimRight(first, " \t"), fence); found {
		return Token{Kind: kind, Fenced: true, Arg: body, Raw: raw(markerLine), Offset: lines[i].offset}, markerLine, true
	}

	// A fence with an info string inside the body opens a nested block that
	// the next bare fence closes.
	depth := 0
	for j := markerLine + 1; j < len(lines); j++ {
		closing := strings.TrimRight(lines[j].text, " \t")
		if inner, ok := strings.CutPrefix(strings.TrimLeft(closing, " \t"), fence); ok {
			inner = strings.TrimLeft(inner, "`")
			switch {
			case inner != "" && !strings.HasSuffix(inner, fence):
				depth++
				continue
			case inner == "" && depth > 0:
				depth--
				continue
			}
		}
		last, found := strings.CutSuffix(closing, fence)
		if !found {
			continue
		}
		body := make([]string, 0, j-markerLine+1)
		if first != "" {
			body = append(body, first)
		}
		for _, l := range lines[markerLine+1 : j] {
			body = append(body, l.text)
		}
		if strings.TrimSpace(last) != "" {
			body = append(body, last)
		}
		return Token{Kind: kind, Fenced: true, Arg: strings.Join(body, "\n"), Raw: raw(j), Offset: lines[i].offset}, j, true
	}
	return Token{}, 0, false
}

// Lex scans text line by line and returns every command marker it finds, in
// textual order. Fenced python and update blocks are consumed whole, so
// their inner lines are never matched again. An unterminated fence is read
// as ordinary lines.
func Lex(text string) []Token {
	lines := splitLines(text)
	var tokens []Token
	inFence := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !inFence {
			if tok, end, ok := lexFence(text, lines, i); ok {
				tokens = append(tokens, tok)
				i = end
				continue
			}
		}
		if strings.HasPrefix(strings.TrimSpace(line.text), fence) {
			inFence = !inFence
			continue
		}
		if kind, arg, ok := matchMarker(line.text); ok {
			tokens = append(tokens, Token{Kind: kind, Arg: arg, Raw: line.text, Offset: line.offset})
		}
	}
	return tokens
}

// Extract returns the command calls found in text. Malformed invocations are
// dropped. When a text holds more than one distinct update (or commit)
// invocation, all of them are replaced by a single Ambiguous call of that
// kind; identical repeats count once.
func Extract(text string, order Ordering) []CommandCall {
	var calls []CommandCall
	writes := map[CommandKind][]CommandCall{}
	for _, tok := range Lex(text) {
		call, ok := parseToken(tok)
		if !ok {
			continue
		}
		if call.Kind == CommandGitWrite || call.Kind == CommandGitCommit {
			writes[call.Kind] = appendDistinct(writes[call.Kind], call)
			continue
		}
		calls = append(calls, call)
	}

	for _, kind := range []CommandKind{CommandGitWrite, CommandGitCommit} {
		group := writes[kind]
		switch len(group) {
		case 0:
		case 1:
			calls = append(calls, group[0])
		default:
			raws := make([]string, len(group))
			for i, c := range group {
				raws[i] = c.Raw
			}
			calls = append(calls, CommandCall{
				Kind:      kind,
				Raw:       strings.Join(raws, "\n"),
				Offset:    group[0].Offset,
				Ambiguous: true,
			})
		}
	}

	slices.SortStableFunc(calls, func(a, b CommandCall) int {
		if order == OrderByKind {
			if c := cmp.Compare(a.rank(), b.rank()); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Offset, b.Offset)
	})
	return calls
}

func appendDistinct(group []CommandCall, call CommandCall) []CommandCall {
	for _, c := range group {
		if c.Input == call.Input {
			return group
		}
	}
	return append(group, call)
}

func parseToken(tok Token) (CommandCall, bool) {
	call := CommandCall{Kind: tok.Kind, Raw: tok.Raw, Offset: tok.Offset, Fenced: tok.Fenced}

	switch tok.Kind {
	case CommandPython:
		code := strings.TrimSpace(tok.Arg)
		if code == "" {
			return call, false
		}
		call.Input, call.Args = code, []string{code}

	case CommandTerminal:
		command := strings.TrimSpace(tok.Arg)
		if command == "" {
			return call, false
		}
		words, err := shellwords.Parse(command)
		if err != nil || len(words) == 0 {
			words = strings.Fields(command)
		}
		call.Input, call.Args = command, words

	case CommandGitWrite:
		arg := tok.Arg
		if !tok.Fenced {
			arg, _, _ = strings.Cut(arg, fence)
		}
		path, content, ok := parseUpdateArgs(arg)
		if !ok {
			return call, false
		}
		call.Input, call.Args = strings.TrimSpace(arg), []string{path, content}

	default:
		value := strings.TrimSpace(tok.Arg)
		if value == "" {
			return call, false
		}
		call.Input, call.Args = value, []string{value}
	}
	return call, true
}

// parseUpdateArgs splits "<path> <content>" at the first whitespace. A single
// pair of matching surrounding quotes is removed from the content, and
// content with at most one newline has its backslash escapes interpreted.
func parseUpdateArgs(s string) (path, content string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, "", true
	}
	path = s[:i]
	content = stripQuotes(strings.TrimSpace(s[i+1:]))
	if strings.Count(content, "\n") <= 1 {
		content = unescape(content)
	}
	return path, content, true
}

func stripQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// unescape interprets backslash escapes the way a model types them into a
// one-line argument. Unknown escapes are kept verbatim.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for len(s) > 0 {
		if s[0] != '\\' {
			_, size := utf8.DecodeRuneInString(s)
			sb.WriteString(s[:size])
			s = s[size:]
			continue
		}
		if len(s) >= 2 && (s[1] == '\'' || s[1] == '"') {
			sb.WriteByte(s[1])
			s = s[2:]
			continue
		}
		value, _, tail, err := strconv.UnquoteChar(s, 0)
		if err != nil {
			sb.WriteByte('\\')
			s = s[1:]
			continue
		}
		sb.WriteRune(value)
		s = tail
	}
	return sb.String()
}
