// Package fhe is the encrypted-integer arithmetic engine: a ciphertext store
// with shared refcounted payloads, the homomorphic operation engine and the
// noise/bootstrapping policy.
//
// The engine never returns plaintext. Payload bytes are produced and consumed
// by a Runtime (see internal/coprocessor); this package only orchestrates
// them, tracks their metadata and enforces the operand rules.
package fhe

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Type is the declared plaintext width of a ciphertext.
type Type uint8

const (
	Bool Type = iota + 1
	Uint8
	Uint16
	Uint32
	Uint64
)

var typeNames = map[Type]string{
	Bool:   "ebool",
	Uint8:  "euint8",
	Uint16: "euint16",
	Uint32: "euint32",
	Uint64: "euint64",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether t is one of the supported widths.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Bits returns the plaintext width in bits.
func (t Type) Bits() uint {
	switch t {
	case Bool:
		return 1
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Uint32:
		return 32
	case Uint64:
		return 64
	}
	return 0
}

// Mask is the largest value representable in t. Division by an encrypted zero
// yields it.
func (t Type) Mask() uint64 {
	if t.Bits() == 64 {
		return ^uint64(0)
	}
	return uint64(1)<<t.Bits() - 1
}

// ParseType accepts both "euint32" and "uint32" spellings.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if s == name || s == strings.TrimPrefix(name, "e") {
			return t, nil
		}
	}
	return 0, errors.Wrapf(ErrTypeMismatch, "unknown type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrTypeMismatch, "type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Handle is an opaque reference to a ciphertext held by a Store. Handles are
// cheap to copy; the payload stays in the store.
type Handle struct {
	uuid.UUID
}

// NilHandle never refers to a ciphertext.
var NilHandle = Handle{}

func newHandle() Handle {
	return Handle{uuid.New()}
}

// ParseHandle parses the textual form produced by Handle.String.
func ParseHandle(s string) (Handle, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilHandle, errors.Wrapf(ErrInvalidHandle, "parse %q", s)
	}
	return Handle{id}, nil
}

// Op identifies a kernel operation.
type Op uint8

const (
	OpAdd Op = iota + 1
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpNot
	OpNeg
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpMin
	OpMax
	OpSelect
	OpCast
)

var opNames = [...]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpNot: "not", OpNeg: "neg",
	OpShl: "shl", OpShr: "shr",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpMin: "min", OpMax: "max", OpSelect: "select", OpCast: "cast",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return "unknown"
}

// Arity is the number of ciphertext arguments o takes.
func (o Op) Arity() int {
	switch o {
	case OpNot, OpNeg, OpCast:
		return 1
	case OpSelect:
		return 3
	}
	return 2
}

// ArgType is the width of argument i of o when the value arguments are of
// width in. The condition of a select is always a Bool.
func (o Op) ArgType(i int, in Type) Type {
	if o == OpSelect && i == 0 {
		return Bool
	}
	return in
}

// IsComparison reports whether o yields a Bool.
func (o Op) IsComparison() bool {
	return o >= OpEq && o <= OpGe
}
