package fhe

// Runtime produces and transforms ciphertext payloads. Implementations hold
// the key material; the engine only ever sees payload bytes.
//
// Encrypt must draw fresh randomness on every call so that equal plaintexts
// never yield equal payloads. Refresh returns a new payload encrypting the
// same value.
type Runtime interface {
	Name() string
	Encrypt(v uint64, t Type) ([]byte, error)
	TrivialEncrypt(v uint64, t Type) ([]byte, error)
	Validate(payload []byte, t Type) error
	Eval(op Op, in, out Type, args ...[]byte) ([]byte, error)
	Refresh(payload []byte, t Type) ([]byte, error)
	Decrypt(payload []byte, t Type) (uint64, error)
}
