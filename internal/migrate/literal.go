package migrate

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// literalParser reads one Python literal (str, bytes, int, float, bool, None,
// list, tuple, dict, set) into a YAML node.
type literalParser struct {
	src   []byte
	pos   int
	// depth counts open brackets; inside them newlines and comments are blanks.
	depth int
}

func (p *literalParser) errorf(format string, args ...any) error {
	line := 1 + bytes.Count(p.src[:p.pos], []byte("\n"))
	return fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\f' || c == '\r':
			p.pos++
		case c == '\\' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\n':
			p.pos += 2
		case c == '\n' && p.depth > 0:
			p.pos++
		case c == '#' && p.depth > 0:
			for p.pos < len(p.src) && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

// end accepts what may follow a complete statement on its line.
func (p *literalParser) end() error {
	p.skipSpace()
	switch p.peek() {
	case 0, '\n', '#', ';':
		return nil
	}
	return p.errorf("unexpected %q after value", p.peek())
}

func (p *literalParser) value() (*yaml.Node, error) {
	p.skipSpace()
	if _, ok := p.stringPrefix(); ok {
		return p.stringLiteral()
	}

	c := p.peek()
	switch {
	case c == 0:
		return nil, p.errorf("unexpected end of file")
	case c == '[':
		items, _, err := p.items(']')
		if err != nil {
			return nil, err
		}
		return sequence(items), nil
	case c == '(':
		items, comma, err := p.items(')')
		if err != nil {
			return nil, err
		}
		if len(items) == 1 && !comma {
			return items[0], nil
		}
		return sequence(items), nil
	case c == '{':
		return p.braces()
	case c == '-' || c == '+':
		p.pos++
		p.skipSpace()
		n, err := p.number()
		if err != nil {
			return nil, err
		}
		if c == '-' {
			if strings.HasPrefix(n.Value, "-") {
				n.Value = n.Value[1:]
			} else {
				n.Value = "-" + n.Value
			}
		}
		return n, nil
	case isDigit(c) || (c == '.' && p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1])):
		return p.number()
	case isIdentByte(c):
		start := p.pos
		for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
			p.pos++
		}
		switch word := string(p.src[start:p.pos]); word {
		case "True":
			return boolean(true), nil
		case "False":
			return boolean(false), nil
		case "None":
			return null(), nil
		default:
			p.pos = start
			return nil, p.errorf("%s is not a literal", word)
		}
	}
	return nil, p.errorf("unexpected %q", c)
}

// items reads comma separated values up to closing and reports whether a comma was seen.
func (p *literalParser) items(closing byte) ([]*yaml.Node, bool, error) {
	p.pos++
	p.depth++
	defer func() { p.depth-- }()

	var out []*yaml.Node
	comma := false
	for {
		p.skipSpace()
		switch p.peek() {
		case 0:
			return nil, false, p.errorf("missing %q", closing)
		case closing:
			p.pos++
			return out, comma, nil
		}

		v, err := p.value()
		if err != nil {
			return nil, false, err
		}
		out = append(out, v)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			comma = true
		case closing:
			p.pos++
			return out, comma, nil
		default:
			return nil, false, p.errorf("expected ',' or %q", closing)
		}
	}
}

// braces reads a dict, or a set when the first element has no ':'.
func (p *literalParser) braces() (*yaml.Node, error) {
	p.pos++
	p.depth++
	defer func() { p.depth-- }()

	dict := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var set []*yaml.Node
	isSet := false
	for first := true; ; first = false {
		p.skipSpace()
		switch p.peek() {
		case 0:
			return nil, p.errorf("missing '}'")
		case '}':
			p.pos++
			if isSet {
				return sequence(set), nil
			}
			return dict, nil
		}

		k, err := p.value()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if first {
			isSet = p.peek() != ':'
		}

		if isSet {
			set = append(set, k)
		} else {
			if p.peek() != ':' {
				return nil, p.errorf("expected ':'")
			}
			p.pos++
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			if k.Kind != yaml.ScalarNode {
				return nil, p.errorf("unhashable dict key")
			}
			setNodeKey(dict, k, v)
		}

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			return nil, p.errorf("expected ',' or '}'")
		}
	}
}

// setNodeKey stores value under key, replacing an equal key like a dict does.
func setNodeKey(m, key, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if k := m.Content[i]; k.Tag == key.Tag && k.Value == key.Value {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, key, value)
}

func (p *literalParser) number() (*yaml.Node, error) {
	start := p.pos
	hex := bytes.HasPrefix(bytes.ToLower(p.src[p.pos:]), []byte("0x"))
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		prev := byte(0)
		if p.pos > start {
			prev = p.src[p.pos-1]
		}
		if isIdentByte(c) || c == '.' || ((c == '-' || c == '+') && !hex && (prev == 'e' || prev == 'E')) {
			p.pos++
			continue
		}
		break
	}

	text := strings.ReplaceAll(string(p.src[start:p.pos]), "_", "")
	if text == "" {
		return nil, p.errorf("expected a number")
	}
	if i, err := strconv.ParseInt(text, 0, 64); err == nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || hex {
		p.pos = start
		return nil, p.errorf("%s is not a number", text)
	}
	v := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(v, ".e") {
		v += ".0"
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: v}, nil
}

// stringPrefix reports the length of a string prefix such as r or b when a
// string literal starts at the current position.
func (p *literalParser) stringPrefix() (int, bool) {
	for n := 0; n <= 2 && p.pos+n < len(p.src); n++ {
		c := p.src[p.pos+n]
		if c == '"' || c == '\'' {
			return n, true
		}
		if !strings.ContainsRune("rRbBuUfF", rune(c)) {
			return 0, false
		}
	}
	return 0, false
}

// stringLiteral reads adjacent string literals, which Python concatenates.
func (p *literalParser) stringLiteral() (*yaml.Node, error) {
	var b strings.Builder
	for {
		n, ok := p.stringPrefix()
		if !ok {
			break
		}
		prefix := strings.ToLower(string(p.src[p.pos : p.pos+n]))
		if strings.Contains(prefix, "f") {
			return nil, p.errorf("f-strings are not literals")
		}
		p.pos += n
		s, err := p.quoted(strings.Contains(prefix, "r"))
		if err != nil {
			return nil, err
		}
		b.WriteString(s)
		p.skipSpace()
	}
	return str(b.String()), nil
}

func (p *literalParser) quoted(raw bool) (string, error) {
	q := p.src[p.pos]
	delim := []byte{q}
	if bytes.HasPrefix(p.src[p.pos:], []byte{q, q, q}) {
		delim = []byte{q, q, q}
	}
	p.pos += len(delim)

	var b strings.Builder
	for {
		if p.pos >= len(p.src) {
			return "", p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch {
		case bytes.HasPrefix(p.src[p.pos:], delim):
			p.pos += len(delim)
			return b.String(), nil
		case c == '\n' && len(delim) == 1:
			return "", p.errorf("unterminated string")
		case c == '\\' && p.pos+1 < len(p.src):
			if raw {
				b.Write(p.src[p.pos : p.pos+2])
				p.pos += 2
				continue
			}
			p.pos++
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *literalParser) escape(b *strings.Builder) error {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case '\n':
	case '\\', '\'', '"':
		b.WriteByte(c)
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'a':
		b.WriteByte('\a')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case 'x':
		return p.codepoint(b, 2)
	case 'u':
		return p.codepoint(b, 4)
	case 'U':
		return p.codepoint(b, 8)
	case '0', '1', '2', '3', '4', '5', '6', '7':
		start := p.pos - 1
		for p.pos < len(p.src) && p.pos-start < 3 && p.src[p.pos] >= '0' && p.src[p.pos] <= '7' {
			p.pos++
		}
		r, _ := strconv.ParseUint(string(p.src[start:p.pos]), 8, 32)
		b.WriteRune(rune(r))
	default:
		// Unknown escapes keep their backslash.
		b.WriteByte('\\')
		b.WriteByte(c)
	}
	return nil
}

func (p *literalParser) codepoint(b *strings.Builder, digits int) error {
	if p.pos+digits > len(p.src) {
		return p.errorf("truncated escape")
	}
	r, err := strconv.ParseUint(string(p.src[p.pos:p.pos+digits]), 16, 32)
	if err != nil {
		return p.errorf("bad escape: %v", errors.Unwrap(err))
	}
	p.pos += digits
	b.WriteRune(rune(r))
	return nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func sequence(items []*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}

func null() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}
