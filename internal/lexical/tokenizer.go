// Package lexical implements stage 5 of the retrieval pipeline: a BM25
// index over the chunk store's content (spec §4.2).
package lexical

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
	"golang.org/x/text/width"
)

// stopwords is the ~50-entry Vietnamese stopword list spec §4.2 calls for.
var stopwords = map[string]bool{
	"và": true, "là": true, "của": true, "có": true, "được": true,
	"cho": true, "các": true, "một": true, "những": true, "này": true,
	"đó": true, "khi": true, "để": true, "với": true, "không": true,
	"trong": true, "đã": true, "sẽ": true, "từ": true, "như": true,
	"thì": true, "mà": true, "nên": true, "nếu": true, "vì": true,
	"tại": true, "theo": true, "về": true, "nào": true, "ai": true,
	"gì": true, "sao": true, "bị": true, "bởi": true, "do": true,
	"cũng": true, "vẫn": true, "chỉ": true, "rất": true, "hơn": true,
	"nhưng": true, "hay": true, "hoặc": true, "nữa": true, "lại": true,
	"đến": true, "qua": true, "ra": true, "vào": true, "lên": true,
	"xuống": true, "trên": true, "dưới": true,
}

var lowerCaser = cases.Lower(language.Vietnamese)

// Tokenize lowercases (Vietnamese-aware), folds full-width punctuation,
// splits on whitespace and punctuation, and drops stopwords.
func Tokenize(text string) []string {
	folded, _, _ := transform.String(width.Fold, text)
	lowered := lowerCaser.String(folded)

	tokens := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || stopwords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}
