package jsonvalue

import (
	"strings"
	"testing"
)

func TestParseScalars(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
	}{
		{"null", KindNull},
		{"true", KindBool},
		{"false", KindBool},
		{"42", KindUInt},
		{"-42", KindInt},
		{"3.14", KindNumber},
		{`"hi"`, KindString},
		{"[]", KindArray},
		{"{}", KindObject},
	}
	for _, c := range cases {
		v, err := Parse([]byte(c.in))
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if v.Kind() != c.kind {
			t.Fatalf("Parse(%q).Kind() = %v, want %v", c.in, v.Kind(), c.kind)
		}
	}
}

func TestParseEscapesAndSurrogates(t *testing.T) {
	v, err := Parse([]byte(`"a\n\tb\u0041\ud83d\ude00"`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s, ok := v.AsString()
	if !ok {
		t.Fatal("expected string value")
	}
	if want := "a\n\tbA😀"; s != want {
		t.Fatalf("got %q, want %q", s, want)
	}
}

func TestParseArrayAndObject(t *testing.T) {
	v, err := Parse([]byte(`{"a":1,"b":[1,2,3],"a":2}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := v.EqualRange("a")
	if len(got) != 2 {
		t.Fatalf("EqualRange(a) = %d members, want 2", len(got))
	}
	arr, ok := v.Get("b")
	if !ok {
		t.Fatal("expected key b")
	}
	elems, _ := arr.AsArray()
	if len(elems) != 3 {
		t.Fatalf("len(b) = %d, want 3", len(elems))
	}
}

func TestControlCharRejected(t *testing.T) {
	_, err := Parse([]byte("\"a\x01b\""))
	if err == nil {
		t.Fatal("expected control character to be rejected")
	}
}

func TestMaxNestingDepth(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxDepth+5; i++ {
		b.WriteByte('[')
	}
	_, err := Parse([]byte(b.String()))
	if err == nil {
		t.Fatal("expected deep nesting to fail")
	}
	var pe *ParseError
	if !asParseError(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
}

func asParseError(err error, out **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*out = pe
	}
	return ok
}

func TestRoundTrip(t *testing.T) {
	in := `{"a":1,"b":[true,false,null,"x\"y"],"c":{"d":1.5}}`
	v, err := Parse([]byte(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := Serialize(v)
	v2, err := Parse([]byte(out))
	if err != nil {
		t.Fatalf("re-Parse: %v", err)
	}
	if !v.Equal(v2) {
		t.Fatalf("round trip mismatch: %s != %s", Serialize(v), Serialize(v2))
	}
}
