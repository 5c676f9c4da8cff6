package tokenizer

import (
	"reflect"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"paragraph", "<p>Hello, World!</p>", []string{"hello", "world"}},
		{"short words dropped", "<p>Hi there</p>", []string{"there"}},
		{"empty", "", []string{}},
		{"only markup", "<html><body></body></html>", []string{}},
		{"duplicates collapse", "alpha Alpha ALPHA alpha.", []string{"alpha"}},
		{"adjacent tags join words", "end</p><p>start", []string{"endstart"}},
		{"unterminated tag", "keep this <a href='x' drop everything", []string{"keep", "this"}},
		{"punctuation inside word", "don't co-operate", []string{"cooperate", "dont"}},
		{"stripping shortens below minimum", "a.b.c ab! x-y", []string{"abc"}},
		{"newlines and tabs", "first\nsecond\tthird", []string{"first", "second", "third"}},
		{"attributes ignored", `<a href="/wiki/Search_engine.html">engines</a>`, []string{"engines"}},
		{"stray closing bracket", "one > two three", []string{"one", "three", "two"}},
		{"non ascii", "<b>Über</b> café", []string{"café", "über"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.text).Sorted()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"Search":   "search",
		"(index)":  "index",
		"it":       "",
		"it's":     "its",
		"...":      "",
		"$100":     "100",
		"e-mail,":  "email",
		"ÄÖÜ":      "äöü",
		"<br>":     "",
		"HTML5":    "html5",
		"__init__": "init",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInvalidUTF8BytesAreKept(t *testing.T) {
	tests := map[string]string{
		"caf\xe9s":     "caf\xe9s",
		"CAF\xc9":      "caf\xc9",
		"\xe9t\xe9":    "\xe9t\xe9",
		"n\xe9":        "",
		"\xe9l\xe8ve!": "\xe9l\xe8ve",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}

	doc := Tokenize("<p>Le caf\xe9 de l'\xe9t\xe9</p>")
	if !doc.Has("caf\xe9") || !doc.Has("l\xe9t\xe9") {
		t.Errorf("Latin-1 terms altered: %q", doc.Sorted())
	}
	if !Tokenize("CAF\xe9").Has("caf\xe9") {
		t.Error("query for a Latin-1 term does not match its indexed form")
	}
}

func TestQueryTermsMatchIndexedTerms(t *testing.T) {
	doc := Tokenize("<h1>Search Engines</h1><p>An inverted index maps words to pages.</p>")
	for _, term := range Tokenize("SEARCH, Inverted index!").Sorted() {
		if !doc.Has(term) {
			t.Errorf("query term %q not found in indexed terms %v", term, doc.Sorted())
		}
	}
}

func TestTokenizeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("terms are lowercase, punctuation free and long enough", prop.ForAll(
		func(text string) bool {
			for term := range Tokenize(text) {
				if utf8.RuneCountInString(term) < MinTermLength {
					return false
				}
				for _, r := range term {
					if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
						return false
					}
					if unicode.ToLower(r) != r {
						return false
					}
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("repeating a document does not change its terms", prop.ForAll(
		func(words []string) bool {
			text := strings.Join(words, " ")
			once := Tokenize(text)
			twice := Tokenize(text + " " + text)
			return reflect.DeepEqual(once, twice)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("text wrapped in a tag pair keeps its terms", prop.ForAll(
		func(words []string) bool {
			text := strings.Join(words, " ")
			return reflect.DeepEqual(Tokenize(text), Tokenize("<p>"+text+"</p>"))
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

var benchTexts = map[string]string{
	"short": "<p>The quick brown fox jumps over the lazy dog</p>",
	"page": strings.Repeat(`<div class="mw-parser-output"><p>An <b>inverted index</b> maps
        each term to the documents containing it. Search engines combine
        tokenisation with <a href="/wiki/Boolean_query.html">boolean queries</a>
        to find pages containing every query word.</p></div>`, 50),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range benchTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(text)
			}
		})
	}
}
