// Package dice parses and evaluates dice expressions such as "4d6kh3 + 2".
package dice

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
)

const (
	MaxDiceCount = 100
	MaxSides     = 1000
	// maxTotalDice bounds the dice rolled by a whole expression
	maxTotalDice   = 1000
	maxLiteral     = 1_000_000
	maxInputLength = 200
)

// Error is a malformed or unevaluable expression. Pos is the character offset it refers to.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos+1)
}

// Roller produces a uniformly random face of a die with the given number of sides
type Roller interface {
	Roll(sides int) int
}

// RandRoller rolls with math/rand/v2
type RandRoller struct{}

func (RandRoller) Roll(sides int) int {
	return rand.IntN(sides) + 1
}

type ModifierKind string

const (
	KeepHighest ModifierKind = "kh"
	KeepLowest  ModifierKind = "kl"
	DropHighest ModifierKind = "dh"
	DropLowest  ModifierKind = "dl"
)

// Expr is a parsed dice expression
type Expr interface {
	eval(state *evalState) (int64, string, error)
}

type evalState struct {
	roller Roller
	rolled int
}

type literal struct {
	value int64
}

type diceTerm struct {
	pos      int
	count    int
	sides    int
	modifier ModifierKind
	modCount int
}

type unaryMinus struct {
	pos     int
	operand Expr
}

type group struct {
	inner Expr
}

type binary struct {
	pos   int
	op    byte
	left  Expr
	right Expr
}

// Result is an evaluated expression
type Result struct {
	Total int64
	// Description shows every roll, e.g. "2d6[3, 5] + 1"
	Description string
}

func (r Result) String() string {
	return fmt.Sprintf("%d = %s", r.Total, r.Description)
}

// Roll parses and evaluates input in one step
func Roll(input string, roller Roller) (Result, error) {
	expr, err := Parse(input)
	if err != nil {
		return Result{}, err
	}
	return Eval(expr, roller)
}

func Eval(expr Expr, roller Roller) (Result, error) {
	total, description, err := expr.eval(&evalState{roller: roller})
	if err != nil {
		return Result{}, err
	}
	return Result{Total: total, Description: description}, nil
}

func (l literal) eval(*evalState) (int64, string, error) {
	return l.value, strconv.FormatInt(l.value, 10), nil
}

func (d diceTerm) eval(state *evalState) (int64, string, error) {
	state.rolled += d.count
	if state.rolled > maxTotalDice {
		return 0, "", &Error{Pos: d.pos, Msg: fmt.Sprintf("too many dice, at most %d per roll", maxTotalDice)}
	}

	rolls := make([]int, d.count)
	for i := range rolls {
		rolls[i] = state.roller.Roll(d.sides)
	}
	kept := d.keptMask(rolls)

	var total int64
	parts := make([]string, len(rolls))
	for i, roll := range rolls {
		if kept[i] {
			total += int64(roll)
			parts[i] = strconv.Itoa(roll)
		} else {
			parts[i] = "~~" + strconv.Itoa(roll) + "~~"
		}
	}

	notation := fmt.Sprintf("%dd%d", d.count, d.sides)
	if d.modifier != "" {
		notation += string(d.modifier) + strconv.Itoa(d.modCount)
	}
	return total, notation + "[" + strings.Join(parts, ", ") + "]", nil
}

// keptMask marks which rolls count towards the total. Ties are broken by roll order.
func (d diceTerm) keptMask(rolls []int) []bool {
	kept := make([]bool, len(rolls))
	for i := range kept {
		kept[i] = true
	}
	if d.modifier == "" {
		return kept
	}

	order := make([]int, len(rolls))
	for i := range order {
		order[i] = i
	}
	// ascending by value, stable on position
	slices.SortStableFunc(order, func(a, b int) int { return rolls[a] - rolls[b] })

	n := d.modCount
	switch d.modifier {
	case KeepHighest:
		for _, idx := range order[:len(order)-n] {
			kept[idx] = false
		}
	case KeepLowest:
		for _, idx := range order[n:] {
			kept[idx] = false
		}
	case DropHighest:
		for _, idx := range order[len(order)-n:] {
			kept[idx] = false
		}
	case DropLowest:
		for _, idx := range order[:n] {
			kept[idx] = false
		}
	}
	return kept
}

func (u unaryMinus) eval(state *evalState) (int64, string, error) {
	value, description, err := u.operand.eval(state)
	if err != nil {
		return 0, "", err
	}
	if value == minInt64 {
		return 0, "", &Error{Pos: u.pos, Msg: "result is too large"}
	}
	return -value, "-" + description, nil
}

func (g group) eval(state *evalState) (int64, string, error) {
	value, description, err := g.inner.eval(state)
	if err != nil {
		return 0, "", err
	}
	return value, "(" + description + ")", nil
}

func (b binary) eval(state *evalState) (int64, string, error) {
	left, leftDesc, err := b.left.eval(state)
	if err != nil {
		return 0, "", err
	}
	right, rightDesc, err := b.right.eval(state)
	if err != nil {
		return 0, "", err
	}

	var value int64
	switch b.op {
	case '+':
		value = left + right
		if (right > 0 && value < left) || (right < 0 && value > left) {
			return 0, "", &Error{Pos: b.pos, Msg: "result is too large"}
		}
	case '-':
		value = left - right
		if (right < 0 && value < left) || (right > 0 && value > left) {
			return 0, "", &Error{Pos: b.pos, Msg: "result is too large"}
		}
	case '*':
		value = left * right
		if left != 0 && (value/left != right || (left == -1 && right == minInt64)) {
			return 0, "", &Error{Pos: b.pos, Msg: "result is too large"}
		}
	case '/':
		if right == 0 {
			return 0, "", &Error{Pos: b.pos, Msg: "division by zero"}
		}
		if left == minInt64 && right == -1 {
			return 0, "", &Error{Pos: b.pos, Msg: "result is too large"}
		}
		value = left / right
	}

	return value, leftDesc + " " + string(b.op) + " " + rightDesc, nil
}

const minInt64 = -1 << 63
