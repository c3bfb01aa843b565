package mupdf

import (
	"bytes"
	"math"
	"strconv"

	"github.com/spherical/pdfcbz/internal/engine"
)

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// multiply returns the matrix that applies m first and then n.
func (m matrix) multiply(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

func translate(tx, ty float64) matrix {
	return matrix{1, 0, 0, 1, tx, ty}
}

// transformRect maps r through m and returns the bounding box of the result.
func transformRect(r engine.Rect, m matrix) engine.Rect {
	var b bounds
	b.add(m.apply(r.Left, r.Bottom))
	b.add(m.apply(r.Right, r.Bottom))
	b.add(m.apply(r.Left, r.Top))
	b.add(m.apply(r.Right, r.Top))
	return b.rect
}

var unitSquare = engine.Rect{Right: 1, Top: 1}

// bounds accumulates points into a bounding box.
type bounds struct {
	rect engine.Rect
	set  bool
}

func (b *bounds) add(x, y float64) {
	if !b.set {
		b.rect = engine.Rect{Left: x, Bottom: y, Right: x, Top: y}
		b.set = true
		return
	}
	b.rect.Left = math.Min(b.rect.Left, x)
	b.rect.Bottom = math.Min(b.rect.Bottom, y)
	b.rect.Right = math.Max(b.rect.Right, x)
	b.rect.Top = math.Max(b.rect.Top, y)
}

func (b *bounds) addRect(r engine.Rect) {
	b.add(r.Left, r.Bottom)
	b.add(r.Right, r.Top)
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokName
	tokString
	tokArrayStart
	tokArrayEnd
	tokDictStart
	tokDictEnd
	tokOperator
)

type token struct {
	kind tokenKind
	num  float64
	text string
	// size is the decoded byte length of string tokens.
	size int
}

// lexer splits a decoded content stream into tokens.
type lexer struct {
	data []byte
	pos  int
}

func isWhitespace(b byte) bool {
	return b == 0 || b == '\t' || b == '\n' || b == '\f' || b == '\r' || b == ' '
}

func isDelimiter(b byte) bool {
	return bytes.IndexByte([]byte("()<>[]{}/%"), b) >= 0
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) next() (token, bool) {
	l.skipSpace()
	if l.pos >= len(l.data) {
		return token{}, false
	}
	c := l.data[l.pos]
	switch {
	case c == '/':
		l.pos++
		return token{kind: tokName, text: l.regular()}, true
	case c == '(':
		return l.literalString(), true
	case c == '<':
		if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
			l.pos += 2
			return token{kind: tokDictStart}, true
		}
		return l.hexString(), true
	case c == '>':
		l.pos++
		if l.pos < len(l.data) && l.data[l.pos] == '>' {
			l.pos++
		}
		return token{kind: tokDictEnd}, true
	case c == '[':
		l.pos++
		return token{kind: tokArrayStart}, true
	case c == ']':
		l.pos++
		return token{kind: tokArrayEnd}, true
	case c == '{' || c == '}' || c == ')':
		l.pos++
		return l.next()
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		word := l.regular()
		n, err := strconv.ParseFloat(word, 64)
		if err != nil {
			return token{kind: tokOperator, text: word}, true
		}
		return token{kind: tokNumber, num: n}, true
	default:
		return token{kind: tokOperator, text: l.regular()}, true
	}
}

func (l *lexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isWhitespace(l.data[l.pos]) && !isDelimiter(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start {
		// lone unexpected byte; consume it so the lexer always advances
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *lexer) literalString() token {
	l.pos++ // (
	depth, size := 1, 0
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos < len(l.data) {
				d := l.data[l.pos]
				l.pos++
				if d >= '0' && d <= '7' {
					for i := 0; i < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						l.pos++
					}
				}
				if d == '\r' || d == '\n' {
					continue
				}
			}
			size++
		case '(':
			depth++
			size++
		case ')':
			depth--
			if depth == 0 {
				return token{kind: tokString, size: size}
			}
			size++
		default:
			size++
		}
	}
	return token{kind: tokString, size: size}
}

func (l *lexer) hexString() token {
	l.pos++ // <
	digits := 0
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if !isWhitespace(l.data[l.pos]) {
			digits++
		}
		l.pos++
	}
	l.pos++ // >
	return token{kind: tokString, size: (digits + 1) / 2}
}

// skipInlineImage moves past the binary data of an inline image, which
// starts after the ID operator and ends at a whitespace-delimited EI.
func (l *lexer) skipInlineImage() {
	if l.pos < len(l.data) && isWhitespace(l.data[l.pos]) {
		l.pos++
	}
	for i := l.pos; i+1 < len(l.data); i++ {
		if l.data[i] != 'E' || l.data[i+1] != 'I' {
			continue
		}
		if i > 0 && !isWhitespace(l.data[i-1]) {
			continue
		}
		if i+2 < len(l.data) && !isWhitespace(l.data[i+2]) && !isDelimiter(l.data[i+2]) {
			continue
		}
		l.pos = i + 2
		return
	}
	l.pos = len(l.data)
}

// xobjectInfo describes an XObject resource referenced by a Do operator.
type xobjectInfo struct {
	Kind         engine.ObjectKind
	BBox         engine.Rect
	Matrix       matrix
	RawAvailable bool
}

type xobjectLookup func(name string) (xobjectInfo, bool)

// scannedObject is a page object plus the XObject resource name that
// produced it, empty for inline images and non-XObject content.
type scannedObject struct {
	engine.Object
	XObject string
}

// average glyph advance in text space units per font size unit
const glyphAdvance = 0.5

type textState struct {
	tm, tlm  matrix
	fontSize float64
	leading  float64
	area     bounds
}

// scanContent walks a content stream and reports its top-level objects
// with their page space bounds. Form XObjects are reported as a single
// object and not entered.
func scanContent(data []byte, lookup xobjectLookup) []scannedObject {
	var (
		lx      = &lexer{data: data}
		objects []scannedObject
		ops     []token
		ctm     = identity
		stack   []matrix
		path    bounds
		text    *textState
		// text state outlives BT/ET blocks
		fontSize, leading float64
	)

	nums := func(n int) ([]float64, bool) {
		if len(ops) < n {
			return nil, false
		}
		out := make([]float64, n)
		for i, t := range ops[len(ops)-n:] {
			if t.kind != tokNumber {
				return nil, false
			}
			out[i] = t.num
		}
		return out, true
	}
	addPoint := func(x, y float64) {
		path.add(ctm.apply(x, y))
	}
	showText := func(glyphs int, kern float64) {
		if text == nil {
			return
		}
		width := (float64(glyphs)*glyphAdvance - kern/1000) * text.fontSize
		box := engine.Rect{Right: width, Top: text.fontSize}
		text.area.addRect(transformRect(box.Normalize(), text.tm.multiply(ctm)))
		text.tm = translate(width, 0).multiply(text.tm)
	}
	nextLine := func() {
		if text == nil {
			return
		}
		text.tlm = translate(0, -text.leading).multiply(text.tlm)
		text.tm = text.tlm
	}
	lastString := func() int {
		for i := len(ops) - 1; i >= 0; i-- {
			if ops[i].kind == tokString {
				return ops[i].size
			}
		}
		return 0
	}

	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			ops = append(ops, tok)
			continue
		}

		switch tok.text {
		case "q":
			stack = append(stack, ctm)
		case "Q":
			if len(stack) > 0 {
				ctm = stack[len(stack)-1]
				stack = stack[:len(stack)-1]
			}
		case "cm":
			if v, ok := nums(6); ok {
				ctm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.multiply(ctm)
			}

		case "m", "l":
			if v, ok := nums(2); ok {
				addPoint(v[0], v[1])
			}
		case "c":
			if v, ok := nums(6); ok {
				addPoint(v[0], v[1])
				addPoint(v[2], v[3])
				addPoint(v[4], v[5])
			}
		case "v", "y":
			if v, ok := nums(4); ok {
				addPoint(v[0], v[1])
				addPoint(v[2], v[3])
			}
		case "re":
			if v, ok := nums(4); ok {
				addPoint(v[0], v[1])
				addPoint(v[0]+v[2], v[1])
				addPoint(v[0], v[1]+v[3])
				addPoint(v[0]+v[2], v[1]+v[3])
			}
		case "S", "s", "f", "F", "f*", "B", "B*", "b", "b*":
			if path.set {
				objects = append(objects, scannedObject{Object: engine.Object{
					Kind: engine.KindPath, Bounds: path.rect, HasBounds: true,
				}})
			}
			path = bounds{}
		case "n":
			path = bounds{}

		case "BT":
			text = &textState{tm: identity, tlm: identity, fontSize: fontSize, leading: leading}
		case "ET":
			if text != nil {
				objects = append(objects, scannedObject{Object: engine.Object{
					Kind: engine.KindText, Bounds: text.area.rect, HasBounds: text.area.set,
				}})
			}
			text = nil
		case "Tf":
			if v, ok := nums(1); ok {
				fontSize = v[0]
				if text != nil {
					text.fontSize = v[0]
				}
			}
		case "TL":
			if v, ok := nums(1); ok {
				leading = v[0]
				if text != nil {
					text.leading = v[0]
				}
			}
		case "Td", "TD":
			if v, ok := nums(2); ok && text != nil {
				if tok.text == "TD" {
					text.leading = -v[1]
					leading = -v[1]
				}
				text.tlm = translate(v[0], v[1]).multiply(text.tlm)
				text.tm = text.tlm
			}
		case "Tm":
			if v, ok := nums(6); ok && text != nil {
				text.tlm = matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
				text.tm = text.tlm
			}
		case "T*":
			nextLine()
		case "Tj":
			showText(lastString(), 0)
		case "'", "\"":
			nextLine()
			showText(lastString(), 0)
		case "TJ":
			glyphs, kern := 0, 0.0
			for i := len(ops) - 1; i >= 0 && ops[i].kind != tokArrayStart; i-- {
				switch ops[i].kind {
				case tokString:
					glyphs += ops[i].size
				case tokNumber:
					kern += ops[i].num
				}
			}
			showText(glyphs, kern)

		case "Do":
			if len(ops) == 0 || ops[len(ops)-1].kind != tokName {
				break
			}
			name := ops[len(ops)-1].text
			obj := scannedObject{XObject: name}
			info, found := lookup(name)
			switch {
			case !found:
				obj.Kind = engine.KindOther
			case info.Kind == engine.KindForm:
				obj.Kind = engine.KindForm
				obj.Bounds = transformRect(info.BBox, info.Matrix.multiply(ctm))
				obj.HasBounds = !info.BBox.Empty()
			default:
				obj.Kind = info.Kind
				obj.Bounds = transformRect(unitSquare, ctm)
				obj.HasBounds = true
				obj.RawAvailable = info.RawAvailable
			}
			objects = append(objects, obj)

		case "BI":
			// inline image dictionary runs until ID
			for {
				t, ok := lx.next()
				if !ok || (t.kind == tokOperator && t.text == "ID") {
					break
				}
			}
			lx.skipInlineImage()
			objects = append(objects, scannedObject{Object: engine.Object{
				Kind: engine.KindImage, Bounds: transformRect(unitSquare, ctm), HasBounds: true,
			}})

		case "sh":
			objects = append(objects, scannedObject{Object: engine.Object{Kind: engine.KindOther}})
		}

		ops = ops[:0]
	}

	return objects
}
