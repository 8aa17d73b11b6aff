package dice

import (
	"fmt"
	"strconv"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenDice
	tokenModifier
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenLParen
	tokenRParen
)

type token struct {
	kind  tokenKind
	pos   int
	text  string
	value int64
}

var modifiers = map[string]ModifierKind{
	"k":  KeepHighest,
	"kh": KeepHighest,
	"kl": KeepLowest,
	"dh": DropHighest,
	"dl": DropLowest,
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			value, err := strconv.ParseInt(text, 10, 64)
			if err != nil || value > maxLiteral {
				return nil, &Error{Pos: start, Msg: fmt.Sprintf("number %s is too large", text)}
			}
			tokens = append(tokens, token{kind: tokenNumber, pos: start, text: text, value: value})
		case unicode.IsLetter(r):
			start := i
			for i < len(runes) && unicode.IsLetter(runes[i]) {
				i++
			}
			text := string(runes[start:i])
			lower := []rune(text)
			for j := range lower {
				lower[j] = unicode.ToLower(lower[j])
			}
			word := string(lower)
			if word == "d" {
				tokens = append(tokens, token{kind: tokenDice, pos: start, text: word})
			} else if _, ok := modifiers[word]; ok {
				tokens = append(tokens, token{kind: tokenModifier, pos: start, text: word})
			} else {
				return nil, &Error{Pos: start, Msg: fmt.Sprintf("unexpected %q", text)}
			}
		default:
			kind, ok := map[rune]tokenKind{
				'+': tokenPlus,
				'-': tokenMinus,
				'*': tokenStar,
				'/': tokenSlash,
				'(': tokenLParen,
				')': tokenRParen,
			}[r]
			if !ok {
				return nil, &Error{Pos: i, Msg: fmt.Sprintf("unexpected %q", string(r))}
			}
			tokens = append(tokens, token{kind: kind, pos: i, text: string(r)})
			i++
		}
	}

	return append(tokens, token{kind: tokenEOF, pos: len(runes)}), nil
}
