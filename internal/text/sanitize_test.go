package text

import (
	"errors"
	"strings"
	"testing"
)

func TestFoldTableOnly(t *testing.T) {
	in := "？！，。：；（）【】《》「」『』…—、·～￥×÷＋－＝％"
	got := Fold(in)
	want := `?!,.:;()[]<>""""...-,.~$x/+-=%`
	if got != want {
		t.Fatalf("fold mismatch\n got: %q\nwant: %q", got, want)
	}
	for _, r := range got {
		if r > 0x7f {
			t.Fatalf("non-ascii rune %q survived folding", r)
		}
	}
}

func TestFoldDropsExoticRunes(t *testing.T) {
	got := Fold("héllo  wörld ＡＢ 😀 \x01 你好")
	if got != "hllo wrld 你好" {
		t.Fatalf("unexpected fold result %q", got)
	}
}

func TestFoldInvalidUTF8(t *testing.T) {
	got := Fold("ab\xff\xfecd")
	if got != "abcd" {
		t.Fatalf("expected invalid bytes dropped, got %q", got)
	}
}

func TestStrip(t *testing.T) {
	got := Strip(`Hi! "quoted" [x] <y> a-b, c.d; e:f (g) 100% ok?`)
	want := "Hi quoted x y ab, c.d; e:f (g) 100 ok"
	if got != want {
		t.Fatalf("strip mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"你好！", "你好"},
		{"  你好，世界。  ", "你好,世界."},
		{"今天天气怎么样？\n\t我很好……", "今天天气怎么样 我很好......"},
		{"价格：￥100（含税）", "价格:100(含税)"},
		{"hello   world", "hello world"},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if err != nil {
			t.Fatalf("normalize %q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalize %q: got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t", "？！", "😀😀", "!!!"} {
		if _, err := Normalize(in); !errors.Is(err, ErrEmpty) {
			t.Fatalf("normalize %q: expected ErrEmpty, got %v", in, err)
		}
	}
}

func TestNormalizedInvariant(t *testing.T) {
	inputs := []string{
		"Mixed 中文 and English！？ with «guillemets» and ‘quotes’",
		"tabs\tand\nnewlines\r\nand　ideographic space",
		"【标题】——副标题～",
	}
	for _, in := range inputs {
		out, err := Normalize(in)
		if err != nil {
			t.Fatalf("normalize %q: %v", in, err)
		}
		if out != strings.TrimSpace(out) || strings.Contains(out, "  ") {
			t.Fatalf("whitespace not collapsed in %q", out)
		}
		for _, r := range out {
			if !(isWord(r) || isIdeograph(r) || r == ' ' || strings.ContainsRune(".,;:()", r)) {
				t.Fatalf("rune %q should not survive normalization of %q", r, in)
			}
		}
	}
}
