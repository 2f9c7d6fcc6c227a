// Package langdetect names the programming language of a code snippet.
//
// It is a thin layer over chroma's lexer registry: chroma already ships
// content analysers and an alias table for a few hundred languages, and the
// same names are what a frontend highlighter expects.
package langdetect

import (
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

// Detect guesses the language of code and returns its lowercase name,
// e.g. "go" or "python". It returns "" when no analyser claims the text.
func Detect(code string) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}
	lexer := lexers.Analyse(code)
	if lexer == nil {
		return ""
	}
	return strings.ToLower(lexer.Config().Name)
}

// Normalize maps a user-supplied language name or alias to chroma's
// canonical lowercase name ("js" → "javascript", "golang" → "go").
// Names chroma does not know are returned trimmed and lowercased.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	if lexer := lexers.Get(name); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return name
}
