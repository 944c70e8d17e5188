package extract

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenQuotedIdent
	tokenString
	tokenNumber
	tokenParam
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
	// upper is the upper-cased text of unquoted identifiers.
	upper string
}

func (t token) is(punct string) bool {
	return t.kind == tokenPunct && t.text == punct
}

func (t token) isWord() bool {
	return t.kind == tokenIdent || t.kind == tokenQuotedIdent
}

// keyword reports whether t is the unquoted keyword kw.
func (t token) keyword(kw string) bool {
	return t.kind == tokenIdent && t.upper == kw
}

// tokenize splits a statement into tokens, dropping whitespace and comments.
// Literal contents never become identifiers.
func tokenize(sql string) ([]token, error) {
	var tokens []token
	runes := []rune(sql)
	n := len(runes)
	for i := 0; i < n; {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < n && runes[i+1] == '*':
			end := indexRunes(runes, i+2, "*/")
			if end < 0 {
				return nil, fmt.Errorf("unterminated block comment")
			}
			i = end + 2

		case r == '\'' || ((r == 'E' || r == 'e') && i+1 < n && runes[i+1] == '\''):
			if r != '\'' {
				i++
			}
			end, err := scanQuoted(runes, i, '\'')
			if err != nil {
				return nil, fmt.Errorf("unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokenString, text: string(runes[i : end+1])})
			i = end + 1

		case r == '"' || r == '`':
			end, err := scanQuoted(runes, i, r)
			if err != nil {
				return nil, fmt.Errorf("unterminated quoted identifier")
			}
			inner := strings.ReplaceAll(string(runes[i+1:end]), string([]rune{r, r}), string(r))
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: inner})
			i = end + 1

		case r == '$' && i+1 < n && unicode.IsDigit(runes[i+1]):
			j := i + 1
			for j < n && unicode.IsDigit(runes[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenParam, text: string(runes[i:j])})
			i = j

		case r == '$':
			// Dollar-quoted string: $tag$ ... $tag$
			j := i + 1
			for j < n && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			if j >= n || runes[j] != '$' {
				return nil, fmt.Errorf("unexpected character %q", r)
			}
			tag := string(runes[i : j+1])
			end := indexRunes(runes, j+1, tag)
			if end < 0 {
				return nil, fmt.Errorf("unterminated dollar-quoted string")
			}
			tokens = append(tokens, token{kind: tokenString, text: string(runes[i : end+len([]rune(tag))])})
			i = end + len([]rune(tag))

		case r == '?':
			tokens = append(tokens, token{kind: tokenParam, text: "?"})
			i++

		case unicode.IsDigit(r) || (r == '.' && i+1 < n && unicode.IsDigit(runes[i+1])):
			j := i
			for j < n && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == '_' ||
				runes[j] == 'e' || runes[j] == 'E' ||
				((runes[j] == '+' || runes[j] == '-') && j > i && (runes[j-1] == 'e' || runes[j-1] == 'E'))) {
				j++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[i:j])})
			i = j

		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < n && (runes[j] == '_' || runes[j] == '$' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			text := string(runes[i:j])
			tokens = append(tokens, token{kind: tokenIdent, text: text, upper: strings.ToUpper(text)})
			i = j

		case r == ':' && i+1 < n && runes[i+1] == ':':
			tokens = append(tokens, token{kind: tokenPunct, text: "::"})
			i += 2

		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens, nil
}

// scanQuoted returns the index of the closing quote, honouring doubled quotes.
func scanQuoted(runes []rune, start int, quote rune) (int, error) {
	for j := start + 1; j < len(runes); j++ {
		if runes[j] != quote {
			continue
		}
		if j+1 < len(runes) && runes[j+1] == quote {
			j++
			continue
		}
		return j, nil
	}
	return 0, fmt.Errorf("unterminated")
}

func indexRunes(runes []rune, from int, needle string) int {
	if from > len(runes) {
		return -1
	}
	idx := strings.Index(string(runes[from:]), needle)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(string(runes[from:])[:idx]))
}
