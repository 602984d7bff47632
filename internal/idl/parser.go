package idl

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse parses one source unit. It returns a *SyntaxError for the first
// construct it cannot match and never returns a partial Definition.
func Parse(text string) (*Definition, error) {
	p := &parser{src: text}
	def, err := p.parseDefinition()
	if err != nil {
		return nil, err
	}
	return def, nil
}

// ParseFile reads and parses the source unit at path.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("idl: read %s: %w", path, err)
	}
	def, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// parser is a recursive-descent scanner over the raw source. Every
// production skips leading whitespace itself; inside braces (depth > 0) line
// comments are skipped as well.
type parser struct {
	src   string
	pos   int
	depth int
}

func (p *parser) parseDefinition() (*Definition, error) {
	if err := p.expectKeyword("namespace"); err != nil {
		return nil, err
	}
	ns, err := p.typeRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar(';'); err != nil {
		return nil, err
	}

	def := &Definition{Namespace: ns, Decls: []Decl{}}
	for {
		p.skip()
		if p.eof() {
			return def, nil
		}
		decl, err := p.parseDecl()
		if err != nil {
			return nil, err
		}
		def.Decls = append(def.Decls, decl)
	}
}

func (p *parser) parseDecl() (Decl, error) {
	if strings.HasPrefix(p.rest(), "//") {
		return p.parseComment(), nil
	}
	switch {
	case p.keyword("message"):
		return p.parseMessage()
	case p.keyword("const"):
		return p.parseConstant()
	case p.keyword("enum"):
		return p.parseEnum()
	case p.keyword("struct"):
		return p.parseStruct()
	}
	return nil, p.fail("declaration")
}

func (p *parser) parseComment() *Comment {
	line := p.rest()[2:]
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
		p.pos += 2 + i + 1
	} else {
		p.pos = len(p.src)
	}
	return &Comment{Text: strings.TrimSpace(line)}
}

func (p *parser) parseConstant() (*Constant, error) {
	typ, err := p.typeRef()
	if err != nil {
		return nil, err
	}
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar('='); err != nil {
		return nil, err
	}
	value, err := p.value()
	if err != nil {
		return nil, err
	}
	if err := p.expectChar(';'); err != nil {
		return nil, err
	}
	return &Constant{Name: name, Type: typ, Value: value}, nil
}

func (p *parser) parseEnum() (*Enum, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.openBody(); err != nil {
		return nil, err
	}
	e := &Enum{Name: name, Members: []EnumMember{}}
	next := int64(0)
	for !p.closeBody() {
		memberName, err := p.ident()
		if err != nil {
			return nil, err
		}
		m := EnumMember{Name: memberName, Value: next}
		if p.char('=') {
			v, err := p.enumOrdinal()
			if err != nil {
				return nil, err
			}
			m.Value = v
			m.Explicit = true
		} else if next > math.MaxInt32 {
			return nil, p.fail("32-bit enum ordinal")
		}
		if err := p.expectChar(';'); err != nil {
			return nil, err
		}
		next = m.Value + 1
		e.Members = append(e.Members, m)
	}
	return e, nil
}

func (p *parser) parseStruct() (*Struct, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.openBody(); err != nil {
		return nil, err
	}
	fields, err := p.parseFields(false)
	if err != nil {
		return nil, err
	}
	return &Struct{Name: name, Fields: fields}, nil
}

func (p *parser) parseMessage() (*Message, error) {
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.openBody(); err != nil {
		return nil, err
	}
	m := &Message{Name: name}
	if p.keyword("request") {
		section, err := p.parseSection()
		if err != nil {
			return nil, err
		}
		m.Request = section
	}
	if p.keyword("response") {
		section, err := p.parseSection()
		if err != nil {
			return nil, err
		}
		m.Response = section
	}
	if !p.closeBody() {
		return nil, p.fail("'}'")
	}
	return m, nil
}

func (p *parser) parseSection() (*Section, error) {
	if err := p.openBody(); err != nil {
		return nil, err
	}
	fields, err := p.parseFields(true)
	if err != nil {
		return nil, err
	}
	return &Section{Fields: fields}, nil
}

// parseFields reads fields up to and including the closing brace.
func (p *parser) parseFields(allowMandatory bool) ([]Field, error) {
	fields := []Field{}
	for !p.closeBody() {
		var f Field
		if allowMandatory && p.keyword("mandatory") {
			f.Mandatory = true
		}
		typ, err := p.typeRef()
		if err != nil {
			return nil, err
		}
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		f.Type = typ
		f.Name = name
		if p.char('=') {
			v, err := p.value()
			if err != nil {
				return nil, err
			}
			f.Default = &v
		}
		if err := p.expectChar(';'); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// value accepts, in order: quoted string, hex, decimal/float, identifier.
func (p *parser) value() (Literal, error) {
	p.skip()
	rest := p.rest()
	if strings.HasPrefix(rest, `"`) {
		return p.stringLit()
	}
	if n := hexLen(rest); n > 0 {
		p.pos += n
		return Literal{Kind: LitHex, Text: rest[:n]}, nil
	}
	if n := numberLen(rest); n > 0 {
		p.pos += n
		return Literal{Kind: LitNumber, Text: rest[:n]}, nil
	}
	if n := identLen(rest); n > 0 {
		p.pos += n
		return Literal{Kind: LitIdent, Text: rest[:n]}, nil
	}
	return Literal{}, p.fail("value")
}

func (p *parser) stringLit() (Literal, error) {
	start := p.pos
	i := p.pos + 1
	for i < len(p.src) {
		switch p.src[i] {
		case '\\':
			i += 2
			continue
		case '"':
			p.pos = i + 1
			return Literal{Kind: LitString, Text: p.src[start:p.pos]}, nil
		}
		i++
	}
	p.pos = len(p.src)
	return Literal{}, p.fail(`closing '"'`)
}

// enumOrdinal reads a hex or decimal integer that must fit in 32 bits.
func (p *parser) enumOrdinal() (int64, error) {
	p.skip()
	rest := p.rest()
	if n := hexLen(rest); n > 0 {
		v, err := strconv.ParseUint(rest[2:n], 16, 32)
		if err != nil {
			return 0, p.fail("32-bit enum ordinal")
		}
		p.pos += n
		return int64(int32(uint32(v))), nil
	}
	n := intLen(rest)
	if n == 0 {
		return 0, p.fail("enum ordinal")
	}
	v, err := strconv.ParseInt(rest[:n], 10, 32)
	if err != nil {
		return 0, p.fail("32-bit enum ordinal")
	}
	p.pos += n
	return v, nil
}

// ident matches \w[\w.]*.
func (p *parser) ident() (string, error) {
	p.skip()
	n := identLen(p.rest())
	if n == 0 {
		return "", p.fail("identifier")
	}
	start := p.pos
	p.pos += n
	return p.src[start:p.pos], nil
}

// typeRef matches (\w+\.?(\[\])*)+, e.g. `int`, `Foo.Bar[]`, `byte[][]`.
func (p *parser) typeRef() (string, error) {
	p.skip()
	start := p.pos
	for {
		n := wordLen(p.rest())
		if n == 0 {
			break
		}
		p.pos += n
		if strings.HasPrefix(p.rest(), ".") {
			p.pos++
		}
		for strings.HasPrefix(p.rest(), "[]") {
			p.pos += 2
		}
	}
	if p.pos == start {
		return "", p.fail("type")
	}
	return p.src[start:p.pos], nil
}

func (p *parser) keyword(kw string) bool {
	p.skip()
	rest := p.rest()
	if !strings.HasPrefix(rest, kw) {
		return false
	}
	if r, _ := utf8.DecodeRuneInString(rest[len(kw):]); isWord(r) {
		return false
	}
	p.pos += len(kw)
	return true
}

func (p *parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return p.fail("'" + kw + "'")
	}
	return nil
}

func (p *parser) char(c byte) bool {
	p.skip()
	if p.eof() || p.src[p.pos] != c {
		return false
	}
	p.pos++
	return true
}

func (p *parser) expectChar(c byte) error {
	if !p.char(c) {
		return p.fail("'" + string(c) + "'")
	}
	return nil
}

func (p *parser) openBody() error {
	if err := p.expectChar('{'); err != nil {
		return err
	}
	p.depth++
	return nil
}

func (p *parser) closeBody() bool {
	if !p.char('}') {
		return false
	}
	p.depth--
	return true
}

func (p *parser) skip() {
	for {
		for !p.eof() {
			r, n := utf8.DecodeRuneInString(p.rest())
			if !unicode.IsSpace(r) {
				break
			}
			p.pos += n
		}
		if p.depth == 0 || !strings.HasPrefix(p.rest(), "//") {
			return
		}
		if i := strings.IndexByte(p.rest(), '\n'); i >= 0 {
			p.pos += i + 1
		} else {
			p.pos = len(p.src)
		}
	}
}

func (p *parser) eof() bool    { return p.pos >= len(p.src) }
func (p *parser) rest() string { return p.src[p.pos:] }

func (p *parser) fail(expected string) error {
	line, col := position(p.src, p.pos)
	return &SyntaxError{Line: line, Column: col, Expected: expected, Found: p.found()}
}

func (p *parser) found() string {
	if p.eof() {
		return "end of input"
	}
	rest := p.rest()
	end := 0
	for i, r := range rest {
		if unicode.IsSpace(r) || i >= 16 {
			break
		}
		end = i + utf8.RuneLen(r)
	}
	if end == 0 {
		_, end = utf8.DecodeRuneInString(rest)
	}
	return strconv.Quote(rest[:end])
}

// position converts a byte offset into a 1-based line and rune column.
func position(src string, offset int) (int, int) {
	line, col := 1, 1
	for _, r := range src[:offset] {
		if r == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordLen(s string) int {
	n := 0
	for _, r := range s {
		if !isWord(r) {
			break
		}
		n += utf8.RuneLen(r)
	}
	return n
}

func identLen(s string) int {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || !isWord(r) {
		return 0
	}
	n := size
	for _, r := range s[size:] {
		if !isWord(r) && r != '.' {
			break
		}
		n += utf8.RuneLen(r)
	}
	return n
}

func hexLen(s string) int {
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return 0
	}
	n := 2
	for n < len(s) && isHexDigit(s[n]) {
		n++
	}
	if n == 2 {
		return 0
	}
	return n
}

// numberLen matches -?(\d+(\.\d+)?|\.\d+).
func numberLen(s string) int {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	intDigits := digitsLen(s[i:])
	i += intDigits
	if i < len(s) && s[i] == '.' {
		if frac := digitsLen(s[i+1:]); frac > 0 {
			return i + 1 + frac
		}
	}
	if intDigits == 0 {
		return 0
	}
	return i
}

// intLen matches -?\d+.
func intLen(s string) int {
	i := 0
	if i < len(s) && s[i] == '-' {
		i++
	}
	d := digitsLen(s[i:])
	if d == 0 {
		return 0
	}
	return i + d
}

func digitsLen(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
