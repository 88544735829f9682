package key

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/json"
	"math/big"

	"github.com/pkg/errors"
)

// --- ECDSA keys in JSON --- //
// Pubkey : {"x": (string), "y": (string), "curve": (string)}
// Privkey: {"x": (string), "y": (string), "curve": (string), "d": (string)}
// Coordinates and scalars are decimal strings.

type ECDSAPubkeyJSON struct {
	X     string `json:"x"`
	Y     string `json:"y"`
	Curve string `json:"curve"`
}

type ECDSAPrivateKeyJSON struct {
	ECDSAPubkeyJSON
	D string `json:"d,omitempty"`
}

func getCurve(curveName string) (elliptic.Curve, error) {
	switch curveName {
	case "P-224":
		return elliptic.P224(), nil
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, errors.Errorf("unrecognized elliptic curve %q", curveName)
	}
}

func parseDecimal(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("failed to convert %s value to big.Int", name)
	}
	return v, nil
}

func pubkeyToJSON(pk *ecdsa.PublicKey) ECDSAPubkeyJSON {
	return ECDSAPubkeyJSON{
		X:     pk.X.String(),
		Y:     pk.Y.String(),
		Curve: pk.Params().Name,
	}
}

func privkeyToJSON(sk *ecdsa.PrivateKey) ECDSAPrivateKeyJSON {
	return ECDSAPrivateKeyJSON{
		ECDSAPubkeyJSON: pubkeyToJSON(&sk.PublicKey),
		D:               sk.D.String(),
	}
}

// PublicKey converts the JSON form back into a key on its curve.
func (j ECDSAPubkeyJSON) PublicKey() (*ecdsa.PublicKey, error) {
	curve, err := getCurve(j.Curve)
	if err != nil {
		return nil, err
	}
	x, err := parseDecimal("x", j.X)
	if err != nil {
		return nil, err
	}
	y, err := parseDecimal("y", j.Y)
	if err != nil {
		return nil, err
	}
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("point is not on the curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// PrivateKey converts the JSON form back into a private key.
func (j ECDSAPrivateKeyJSON) PrivateKey() (*ecdsa.PrivateKey, error) {
	pk, err := j.PublicKey()
	if err != nil {
		return nil, err
	}
	if j.D == "" {
		return nil, errors.New("private scalar missing")
	}
	d, err := parseDecimal("d", j.D)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PrivateKey{PublicKey: *pk, D: d}, nil
}

func EncodeECDSAPubkeyToJSON(pk *ecdsa.PublicKey) []byte {
	data, _ := json.Marshal(pubkeyToJSON(pk))
	return data
}

// DecodeJSONToECDSAPubkey parses the JSON form of a public key.
func DecodeJSONToECDSAPubkey(data []byte) (*ecdsa.PublicKey, error) {
	var j ECDSAPubkeyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return j.PublicKey()
}

func EncodeECDSAPrivateKeyToJSON(sk *ecdsa.PrivateKey) []byte {
	data, _ := json.Marshal(privkeyToJSON(sk))
	return data
}

func DecodeJSONToECDSAPrivateKey(data []byte) (*ecdsa.PrivateKey, error) {
	var j ECDSAPrivateKeyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return j.PrivateKey()
}
