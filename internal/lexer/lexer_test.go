package lexer

import "testing"

func collect(src string) []Token {
	l := New(src)
	var toks []Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks
		}
	}
}

func TestKeywordsRequireBoundary(t *testing.T) {
	toks := collect("do def let if fn true false nil")
	want := []TokenType{Do, Def, Let, If, Fn, True, False, Nil, EOF}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, tt)
		}
	}
}

func TestKeywordPrefixIsIdentifier(t *testing.T) {
	toks := collect("doit defun iffy")
	for i, tok := range toks[:3] {
		if tok.Type != Identifier {
			t.Errorf("token %d (%q): got %s, want Identifier", i, tok.Literal, tok.Type)
		}
	}
}

func TestOperatorsAreIdentifiers(t *testing.T) {
	toks := collect("+ - * / < <= > >= =")
	for _, tok := range toks {
		if tok.Type == EOF {
			break
		}
		if tok.Type != Identifier {
			t.Errorf("%q: got %s, want Identifier", tok.Literal, tok.Type)
		}
	}
}

func TestNegativeNumberTokenizesAsIdentifier(t *testing.T) {
	toks := collect("-1")
	if toks[0].Type != Identifier || toks[0].Literal != "-1" {
		t.Fatalf("got %v, want Identifier %q", toks[0], "-1")
	}
}

func TestIntegerAndDoubleLiterals(t *testing.T) {
	toks := collect("42 3.14 007")
	if toks[0].Type != Integer || toks[0].Literal != "42" {
		t.Errorf("got %v", toks[0])
	}
	if toks[1].Type != Double || toks[1].Literal != "3.14" {
		t.Errorf("got %v", toks[1])
	}
	if toks[2].Type != Integer || toks[2].Literal != "007" {
		t.Errorf("got %v", toks[2])
	}
}

func TestDotWithoutTrailingDigitStaysInteger(t *testing.T) {
	toks := collect("1.")
	if toks[0].Type != Integer || toks[0].Literal != "1" {
		t.Fatalf("got %v, want Integer %q", toks[0], "1")
	}
}

func TestStringEscapes(t *testing.T) {
	toks := collect(`"a\nb\tc\"d\\e\qf"`)
	want := "a\nb\tc\"d\\e\\qf"
	if toks[0].Type != String || toks[0].Literal != want {
		t.Fatalf("got %q, want %q", toks[0].Literal, want)
	}
}

func TestLineCommentsAreSkipped(t *testing.T) {
	toks := collect("1 ; this is a comment\n2")
	if toks[0].Literal != "1" || toks[1].Literal != "2" {
		t.Fatalf("got %v", toks)
	}
}

func TestParens(t *testing.T) {
	toks := collect("(+ 1 2)")
	want := []TokenType{LeftParen, Identifier, Integer, Integer, RightParen, EOF}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Errorf("token %d: got %s, want %s", i, toks[i].Type, tt)
		}
	}
}

func TestPushback(t *testing.T) {
	l := New("1 2 3")
	a := l.Next()
	b := l.Next()
	l.PutBack(b)
	l.PutBack(a)
	if got := l.Next(); got.Literal != "1" {
		t.Fatalf("got %q, want %q", got.Literal, "1")
	}
	if got := l.Next(); got.Literal != "2" {
		t.Fatalf("got %q, want %q", got.Literal, "2")
	}
	if got := l.Next(); got.Literal != "3" {
		t.Fatalf("got %q, want %q", got.Literal, "3")
	}
}

func TestUnknownByteConsumesProgress(t *testing.T) {
	toks := collect("@ 1")
	if toks[0].Type != Unknown || toks[0].Literal != "@" {
		t.Fatalf("got %v", toks[0])
	}
	if toks[1].Type != Integer {
		t.Fatalf("scanner did not make progress past the unknown byte: %v", toks[1])
	}
}

func TestLineAndColumnTracking(t *testing.T) {
	toks := collect("1\n  2")
	if toks[0].Line != 1 || toks[0].Column != 1 {
		t.Errorf("got %d:%d, want 1:1", toks[0].Line, toks[0].Column)
	}
	if toks[1].Line != 2 || toks[1].Column != 3 {
		t.Errorf("got %d:%d, want 2:3", toks[1].Line, toks[1].Column)
	}
}
