// Package csa models TriCore context save areas: the upper and lower
// register-window halves the core spills on calls and trap entry, and the
// halted-core snapshot built from them.
package csa

import (
	"errors"
	"fmt"
)

// Words is the size of one saved context in 32 bit words.
const Words = 16

var ErrBadContext = errors.New("invalid saved context")

// UpperContext is saved on every call and trap entry.
type UpperContext struct {
	PCXI uint32
	PSW  uint32
	A10  uint32
	A11  uint32
	D8   uint32
	D9   uint32
	D10  uint32
	D11  uint32
	A12  uint32
	A13  uint32
	A14  uint32
	A15  uint32
	D12  uint32
	D13  uint32
	D14  uint32
	D15  uint32
}

// LowerContext is saved explicitly (svlcx, interrupts with bisr).
type LowerContext struct {
	PCXI uint32
	A11  uint32
	A2   uint32
	A3   uint32
	D0   uint32
	D1   uint32
	D2   uint32
	D3   uint32
	A4   uint32
	A5   uint32
	A6   uint32
	A7   uint32
	D4   uint32
	D5   uint32
	D6   uint32
	D7   uint32
}

// Register names in CSA memory order.
var (
	UpperRegisters = [Words]string{"pcxi", "psw", "a10", "a11", "d8", "d9", "d10", "d11", "a12", "a13", "a14", "a15", "d12", "d13", "d14", "d15"}
	LowerRegisters = [Words]string{"pcxi", "a11", "a2", "a3", "d0", "d1", "d2", "d3", "a4", "a5", "a6", "a7", "d4", "d5", "d6", "d7"}
)

func DecodeUpper(w [Words]uint32) UpperContext {
	return UpperContext{
		PCXI: w[0], PSW: w[1], A10: w[2], A11: w[3],
		D8: w[4], D9: w[5], D10: w[6], D11: w[7],
		A12: w[8], A13: w[9], A14: w[10], A15: w[11],
		D12: w[12], D13: w[13], D14: w[14], D15: w[15],
	}
}

func DecodeLower(w [Words]uint32) LowerContext {
	return LowerContext{
		PCXI: w[0], A11: w[1], A2: w[2], A3: w[3],
		D0: w[4], D1: w[5], D2: w[6], D3: w[7],
		A4: w[8], A5: w[9], A6: w[10], A7: w[11],
		D4: w[12], D5: w[13], D6: w[14], D7: w[15],
	}
}

// Kind tells which half of a register window a SavedContext holds.
type Kind uint8

const (
	KindLower Kind = iota
	KindUpper
)

func (k Kind) String() string {
	switch k {
	case KindUpper:
		return "upper"
	case KindLower:
		return "lower"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind accepts the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "upper":
		return KindUpper, nil
	case "lower":
		return KindLower, nil
	}
	return 0, fmt.Errorf("%w: unknown context kind %q", ErrBadContext, s)
}

// SavedContext holds exactly one of an upper or a lower context.
type SavedContext struct {
	kind  Kind
	upper UpperContext
	lower LowerContext
}

func NewUpper(c UpperContext) SavedContext { return SavedContext{kind: KindUpper, upper: c} }

func NewLower(c LowerContext) SavedContext { return SavedContext{kind: KindLower, lower: c} }

func (c SavedContext) Kind() Kind { return c.kind }

func (c SavedContext) AsUpper() (UpperContext, bool) {
	return c.upper, c.kind == KindUpper
}

func (c SavedContext) AsLower() (LowerContext, bool) {
	return c.lower, c.kind == KindLower
}

// ReturnAddress is the a11 saved in either half.
func (c SavedContext) ReturnAddress() uint32 {
	if c.kind == KindUpper {
		return c.upper.A11
	}
	return c.lower.A11
}

// PCXI links to the context saved before this one.
func (c SavedContext) PCXI() uint32 {
	if c.kind == KindUpper {
		return c.upper.PCXI
	}
	return c.lower.PCXI
}

func (c SavedContext) String() string {
	return fmt.Sprintf("%s context (ra %#x, pcxi %#x)", c.kind, c.ReturnAddress(), c.PCXI())
}

// Stacktrace is the state of a halted core.
type Stacktrace struct {
	CurrentPC    uint32
	CurrentUpper UpperContext
	// StackFrames is the saved-context chain in the order it was walked.
	StackFrames []SavedContext
}
