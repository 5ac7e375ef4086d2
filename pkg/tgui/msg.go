package tgui

import "strings"

// ParseModeHTML is the Telegram parse mode every Builder renders for.
const ParseModeHTML = "HTML"

// Separator is the rule drawn under announcement titles.
const Separator = "━━━━━━━━━━"

// Builder assembles an HTML message line by line. Text passed to Line, KV
// and Title is escaped; RawLine is not.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line with an optional leading emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e != "" {
		b.lines = append(b.lines, Esc(e).String()+" "+B(t).String())
	} else {
		b.lines = append(b.lines, B(t).String())
	}
	return b
}

// Rule adds the separator line.
func (b *Builder) Rule() *Builder {
	b.lines = append(b.lines, Separator)
	return b
}

func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	b.lines = append(b.lines, Esc(s).String())
	return b
}

func (b *Builder) RawLine(s H) *Builder {
	b.lines = append(b.lines, s.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds "<emoji> <b>key:</b> value". Empty values render as "N/A".
func (b *Builder) KV(emoji, key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	value = strings.TrimSpace(value)
	if value == "" {
		value = "N/A"
	}
	prefix := ""
	if e := strings.TrimSpace(emoji); e != "" {
		prefix = Esc(e).String() + " "
	}
	b.lines = append(b.lines, prefix+B(key+":").String()+" "+Esc(value).String())
	return b
}

// Bullets adds one "• item" line per non-empty item.
func (b *Builder) Bullets(items ...H) *Builder {
	for _, it := range items {
		if strings.TrimSpace(it.String()) == "" {
			continue
		}
		b.lines = append(b.lines, "• "+it.String())
	}
	return b
}

// String joins the lines, trimming leading and trailing blank lines.
func (b *Builder) String() string {
	return strings.Trim(strings.Join(b.lines, "\n"), "\n")
}
