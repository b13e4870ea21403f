package jsonvalue

import (
	"fmt"
	"strconv"
)

// MaxDepth is the nesting-depth ceiling the parser enforces; spec §8
// requires depth >= 1000 to fail with a ParseError.
const MaxDepth = 1000

// Parser drives the tokenizer to build a Value tree. A Parser never panics
// and never throws into caller code: every failure surfaces through the
// returned error, matching spec §4.3.
type Parser struct {
	tok   *tokenizer
	depth int
}

// NewParser constructs a Parser over src.
func NewParser(src []byte) *Parser {
	return &Parser{tok: newTokenizer(src)}
}

// Parse parses the entirety of src as one JSON document, returning a
// ParseError if trailing, non-whitespace content follows the document.
func Parse(src []byte) (Value, error) {
	p := NewParser(src)
	v, err := p.parseValue()
	if err != nil {
		return Value{}, err
	}
	end, err := p.tok.next()
	if err != nil {
		return Value{}, err
	}
	if end.kind != tokEnd {
		return Value{}, &ParseError{Offset: p.tok.pos, Message: "unexpected trailing content"}
	}
	return v, nil
}

func (p *Parser) parseValue() (Value, error) {
	t, err := p.tok.next()
	if err != nil {
		return Value{}, err
	}
	switch t.kind {
	case tokLSquare:
		return p.parseArray()
	case tokLCurly:
		return p.parseObject()
	case tokString:
		return String(t.text), nil
	case tokBoolTrue:
		return Bool(true), nil
	case tokBoolFalse:
		return Bool(false), nil
	case tokNull:
		return Null(), nil
	case tokNumberFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return Value{}, &ParseError{Offset: p.tok.pos, Message: "malformed float literal"}
		}
		return Number(f), nil
	case tokNumberUInt:
		u, err := strconv.ParseUint(t.text, 10, 64)
		if err != nil {
			return Value{}, &ParseError{Offset: p.tok.pos, Message: "malformed unsigned integer literal"}
		}
		return UInt(u), nil
	case tokNumberInt:
		i, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return Value{}, &ParseError{Offset: p.tok.pos, Message: "malformed integer literal"}
		}
		return Int(i), nil
	default:
		return Value{}, &ParseError{Offset: p.tok.pos, Message: fmt.Sprintf("unexpected token kind %d", t.kind)}
	}
}

func (p *Parser) parseArray() (Value, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth >= MaxDepth {
		return Value{}, &ParseError{Offset: p.tok.pos, Message: "maximum nesting depth exceeded"}
	}

	var elems []Value
	save := p.tok.pos
	t, err := p.tok.next()
	if err != nil {
		return Value{}, err
	}
	if t.kind == tokRSquare {
		return Array(elems), nil
	}
	p.tok.pos = save // not empty: rewind and let parseValue retokenize the first element

	for {
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
		t, err := p.tok.next()
		if err != nil {
			return Value{}, err
		}
		switch t.kind {
		case tokComma:
			continue
		case tokRSquare:
			return Array(elems), nil
		default:
			return Value{}, &ParseError{Offset: p.tok.pos, Message: "expected ',' or ']' in array"}
		}
	}
}

func (p *Parser) parseObject() (Value, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth >= MaxDepth {
		return Value{}, &ParseError{Offset: p.tok.pos, Message: "maximum nesting depth exceeded"}
	}

	var members []Member
	t, err := p.tok.next()
	if err != nil {
		return Value{}, err
	}
	if t.kind == tokRCurly {
		return Object(members), nil
	}
	if t.kind != tokString {
		return Value{}, &ParseError{Offset: p.tok.pos, Message: "expected string key in object"}
	}
	key := t.text
	for {
		colon, err := p.tok.next()
		if err != nil {
			return Value{}, err
		}
		if colon.kind != tokColon {
			return Value{}, &ParseError{Offset: p.tok.pos, Message: "expected ':' after object key"}
		}
		v, err := p.parseValue()
		if err != nil {
			return Value{}, err
		}
		members = append(members, Member{Key: key, Value: v})

		next, err := p.tok.next()
		if err != nil {
			return Value{}, err
		}
		switch next.kind {
		case tokRCurly:
			return Object(members), nil
		case tokComma:
			kt, err := p.tok.next()
			if err != nil {
				return Value{}, err
			}
			if kt.kind != tokString {
				return Value{}, &ParseError{Offset: p.tok.pos, Message: "expected string key in object"}
			}
			key = kt.text
		default:
			return Value{}, &ParseError{Offset: p.tok.pos, Message: "expected ',' or '}' in object"}
		}
	}
}
