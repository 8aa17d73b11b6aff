package dice

import (
	"fmt"
	"strings"
)

type parser struct {
	tokens []token
	pos    int
}

// Parse turns a dice expression into an evaluable tree.
//
//	expr    := term (("+" | "-") term)*
//	term    := unary (("*" | "/") unary)*
//	unary   := "-" unary | primary
//	primary := NUMBER | dice | "(" expr ")"
//	dice    := [NUMBER] "d" NUMBER [MODIFIER NUMBER]
func Parse(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &Error{Pos: 0, Msg: "empty expression"}
	}
	if len(input) > maxInputLength {
		return nil, &Error{Pos: maxInputLength, Msg: fmt.Sprintf("expression is longer than %d characters", maxInputLength)}
	}

	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	expr, err := p.expr()
	if err != nil {
		return nil, err
	}
	if next := p.peek(); next.kind != tokenEOF {
		return nil, &Error{Pos: next.pos, Msg: fmt.Sprintf("unexpected %q", next.text)}
	}
	return expr, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) expr() (Expr, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op.kind != tokenPlus && op.kind != tokenMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binary{pos: op.pos, op: op.text[0], left: left, right: right}
	}
}

func (p *parser) term() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op.kind != tokenStar && op.kind != tokenSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binary{pos: op.pos, op: op.text[0], left: left, right: right}
	}
}

func (p *parser) unary() (Expr, error) {
	if p.peek().kind == tokenMinus {
		minus := p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryMinus{pos: minus.pos, operand: operand}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokenNumber:
		if p.peek().kind == tokenDice {
			return p.dice(t.pos, t.value)
		}
		return literal{value: t.value}, nil
	case tokenDice:
		p.pos--
		return p.dice(t.pos, 1)
	case tokenLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, &Error{Pos: closing.pos, Msg: "missing closing parenthesis"}
		}
		return group{inner: inner}, nil
	case tokenEOF:
		return nil, &Error{Pos: t.pos, Msg: "unexpected end of expression"}
	default:
		return nil, &Error{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}

func (p *parser) dice(pos int, count int64) (Expr, error) {
	p.next() // "d"

	sides := p.next()
	if sides.kind != tokenNumber {
		return nil, &Error{Pos: sides.pos, Msg: "expected number of sides after \"d\""}
	}
	if count < 1 || count > MaxDiceCount {
		return nil, &Error{Pos: pos, Msg: fmt.Sprintf("dice count must be between 1 and %d", MaxDiceCount)}
	}
	if sides.value < 1 || sides.value > MaxSides {
		return nil, &Error{Pos: sides.pos, Msg: fmt.Sprintf("dice sides must be between 1 and %d", MaxSides)}
	}

	term := diceTerm{pos: pos, count: int(count), sides: int(sides.value)}
	if p.peek().kind != tokenModifier {
		return term, nil
	}

	modifier := p.next()
	amount := p.next()
	if amount.kind != tokenNumber {
		return nil, &Error{Pos: amount.pos, Msg: fmt.Sprintf("expected a count after %q", modifier.text)}
	}
	if amount.value > count {
		return nil, &Error{Pos: amount.pos, Msg: fmt.Sprintf("cannot %s %d of %d dice", modifierVerb(modifiers[modifier.text]), amount.value, count)}
	}

	term.modifier = modifiers[modifier.text]
	term.modCount = int(amount.value)
	return term, nil
}

func modifierVerb(kind ModifierKind) string {
	if kind == KeepHighest || kind == KeepLowest {
		return "keep"
	}
	return "drop"
}
