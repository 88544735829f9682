package fhe

import "github.com/pkg/errors"

// NoiseState is the refresh state of a ciphertext.
type NoiseState uint8

const (
	Fresh NoiseState = iota
	Degraded
	BootstrapRequired
)

func (s NoiseState) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Degraded:
		return "degraded"
	case BootstrapRequired:
		return "bootstrap_required"
	}
	return "unknown"
}

func (s NoiseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *NoiseState) UnmarshalText(b []byte) error {
	for _, v := range []NoiseState{Fresh, Degraded, BootstrapRequired} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return errors.Errorf("unknown noise state %q", b)
}

// Policy holds the noise budget parameters. Budgets are abstract units: a
// fresh ciphertext starts at Fresh and every operation subtracts its cost.
type Policy struct {
	Fresh int
	Floor int
	// Unrecoverable is the budget below which a refresh is refused.
	Unrecoverable int
	Costs         map[Op]int
}

// DefaultPolicy returns fresh 100, floor 10, unrecoverable 0 and the
// default operation costs.
func DefaultPolicy() Policy {
	return Policy{
		Fresh:         100,
		Floor:         10,
		Unrecoverable: 0,
		Costs:         DefaultCosts(),
	}
}

// DefaultCosts: linear and bitwise ops are cheap, multiplication and
// division dominate.
func DefaultCosts() map[Op]int {
	return map[Op]int{
		OpAdd: 1, OpSub: 1, OpNeg: 1,
		OpAnd: 1, OpOr: 1, OpXor: 1, OpNot: 1, OpShl: 1, OpShr: 1,
		OpCast: 1,
		OpEq: 2, OpNe: 2, OpLt: 2, OpLe: 2, OpGt: 2, OpGe: 2,
		OpMin: 2, OpMax: 2,
		OpSelect: 3,
		OpMul:    6,
		OpDiv:    10, OpRem: 10,
	}
}

// Cost returns the budget consumed by op. Unknown ops cost as much as a
// division.
func (p Policy) Cost(op Op) int {
	if c, ok := p.Costs[op]; ok {
		return c
	}
	return 10
}

// Classify maps a budget to its state.
func (p Policy) Classify(budget int) NoiseState {
	switch {
	case budget <= p.Floor:
		return BootstrapRequired
	case budget >= p.Fresh:
		return Fresh
	default:
		return Degraded
	}
}

// needsRefresh reports whether an operand at budget would push a result of
// cost below the floor.
func (p Policy) needsRefresh(budget, cost int) bool {
	return budget-cost < p.Floor
}

// Noise is the noise metadata of a handle.
type Noise struct {
	Budget int        `json:"budget"`
	State  NoiseState `json:"state"`
}
