package migrate

import (
	"reflect"
	"strings"
	"testing"
)

func TestLiteralParser(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want any
	}{
		{"double quoted", `"hz-token"`, "hz-token"},
		{"adjacent strings", `"abc" 'def'`, "abcdef"},
		{"escapes", `"tab\there\n"`, "tab\there\n"},
		{"unicode escapes", `"caf\u00e9 \x41"`, "café A"},
		{"raw string", `r"C:\new"`, `C:\new`},
		{"escaped quote", `'it\'s'`, "it's"},
		{"triple quoted", "'''two\nlines'''", "two\nlines"},
		{"negative int", "-100200300", -100200300},
		{"underscores", "1_000", 1000},
		{"hex", "0x1F", 31},
		{"float", "1.5", 1.5},
		{"exponent", "1e3", 1000.0},
		{"true", "True", true},
		{"none", "None", nil},
		{"list", `[1, "two", [3]]`, []any{1, "two", []any{3}}},
		{"trailing comma", "[80, 90, 100,]", []any{80, 90, 100}},
		{"one-tuple", "(1,)", []any{1}},
		{"parenthesized", "(7)", 7},
		{"dict", `{"a": 1, "b": [2, 3]}`, map[string]any{"a": 1, "b": []any{2, 3}}},
		{"duplicate key", `{"a": 1, "a": 2}`, map[string]any{"a": 2}},
		{"set", "{1, 2}", []any{1, 2}},
		{"multi-line with comments", "[\n    1,  # first\n    2,\n]", []any{1, 2}},
		{"line continuation", "\\\n    42", 42},
		{"trailing comment", `"x"  # note`, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ParseLegacy([]byte("HETZNER_TOKEN = " + tt.src + "\n"))
			v := l.Get("HETZNER_TOKEN")
			if v == nil {
				t.Fatalf("not parsed: %v", l.Skipped)
			}
			var got any
			if err := v.Decode(&got); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestLiteralParser_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"call", `os.getenv("HETZNER_TOKEN")`},
		{"arithmetic", "5 * 60"},
		{"name", "DEFAULT_TOKEN"},
		{"f-string", `f"{PREFIX}-token"`},
		{"unclosed list", "[1, 2\nOTHER = 3"},
		{"unterminated string", `"abc`},
		{"missing colon", `{"a" 1}`},
		{"complex", "1j"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := ParseLegacy([]byte("HETZNER_TOKEN = " + tt.src + "\n"))
			if v := l.Get("HETZNER_TOKEN"); v != nil {
				t.Errorf("accepted %q as %+v", tt.src, v)
			}
			if len(l.Skipped) != 1 || !strings.HasPrefix(l.Skipped[0], "HETZNER_TOKEN: not a literal") {
				t.Errorf("Skipped = %v", l.Skipped)
			}
		})
	}
}
