package fhe

import "fmt"

// Operand is either a ciphertext handle or a plaintext literal. Literals are
// promoted to trivial ciphertexts of the other operand's width when an
// operation starts.
type Operand struct {
	handle Handle
	value  uint64
	plain  bool
}

// Cipher wraps a handle.
func Cipher(h Handle) Operand {
	return Operand{handle: h}
}

// Plain wraps a plaintext literal.
func Plain(v uint64) Operand {
	return Operand{value: v, plain: true}
}

func (o Operand) IsPlain() bool { return o.plain }
func (o Operand) Handle() Handle { return o.handle }
func (o Operand) Value() uint64 { return o.value }

func (o Operand) String() string {
	if o.plain {
		return fmt.Sprintf("plain(%d)", o.value)
	}
	return o.handle.String()
}
