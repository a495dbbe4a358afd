// Package crypto implements devicecore's C3 key exchangers. The P224
// Encrypted Key Exchange (SPAKE-family password-authenticated key
// agreement) has no counterpart in the retrieval pack's third-party
// dependency graph, and its own primitive is explicitly out of scope for
// the core to reimplement from a general-purpose library — spec.md §1
// lists "P224 elliptic-curve scalar arithmetic" as an external primitive.
// The pack's only elliptic-curve surface is golang.org/x/crypto, which
// does not implement SPAKE2/EKE either, so this file is built directly on
// the standard library's crypto/elliptic and crypto/rand, which is the
// right escape hatch for a primitive the ecosystem doesn't package. This
// is documented as a stdlib exception in DESIGN.md.
package crypto

import (
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"math/big"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/pkg/errors"
)

// blindingSeed is what blindingPoint hashes to a fixed curve point used to blind the
// password-derived scalar into both parties' exchanged messages. It is a
// deterministic, publicly-known constant (not a secret) the way SPAKE2's
// M/N generators are: reproducible, but only usable in combination with
// knowledge of the password.
var blindingSeed = []byte("devicecore/p224-spake/blinding-point/v1")

func blindingPoint(curve elliptic.Curve) (x, y *big.Int) {
	seedScalar := hashToScalar(blindingSeed, curve.Params().N)
	return curve.ScalarBaseMult(seedScalar.Bytes())
}

func hashToScalar(data []byte, order *big.Int) *big.Int {
	sum := sha256.Sum256(data)
	n := new(big.Int).SetBytes(sum[:])
	return n.Mod(n, order)
}

func negateY(curve elliptic.Curve, y *big.Int) *big.Int {
	p := curve.Params().P
	return new(big.Int).Sub(p, y)
}

const saltSize = 8

// spakeP224Exchanger implements models.KeyExchanger using a single-round,
// password-blinded Diffie-Hellman exchange over the NIST P-224 curve.
// Message() returns base64-ready bytes (the caller base64-encodes them
// per spec.md §6); Process() may only be called once.
type spakeP224Exchanger struct {
	curve     elliptic.Curve
	password  []byte
	x         *big.Int
	pubX      *big.Int
	pubY      *big.Int
	salt      []byte
	message   []byte
	key       []byte
	processed bool
}

// NewSpakeP224Exchanger constructs the device side of a P224 EKE session
// bound to the given short shared code.
func NewSpakeP224Exchanger(password []byte) (models.KeyExchanger, error) {
	curve := elliptic.P224()
	order := curve.Params().N

	x, err := rand.Int(rand.Reader, order)
	if err != nil {
		return nil, errors.Wrap(err, errors.InvalidState, "generating spake scalar")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, errors.InvalidState, "generating spake salt")
	}

	w := hashToScalar(password, order)
	mx, my := blindingPoint(curve)
	wx, wy := curve.ScalarMult(mx, my, w.Bytes())
	gx, gy := curve.ScalarBaseMult(x.Bytes())
	pubX, pubY := curve.Add(gx, gy, wx, wy)

	pointBytes := elliptic.Marshal(curve, pubX, pubY)
	message := append(append([]byte{}, pointBytes...), salt...)

	return &spakeP224Exchanger{
		curve:    curve,
		password: password,
		x:        x,
		pubX:     pubX,
		pubY:     pubY,
		salt:     salt,
		message:  message,
	}, nil
}

func (e *spakeP224Exchanger) Message() []byte { return e.message }

func (e *spakeP224Exchanger) Process(peerMessage []byte) error {
	if e.processed {
		// SecurityManager uses only one round trip; a second call is a
		// programmer error, recoverable in release by returning an error.
		return errors.New(errors.InvalidState, "key exchange already processed")
	}
	e.processed = true

	if len(peerMessage) <= saltSize {
		return errors.New(errors.InvalidFormat, "peer message too short")
	}
	pointBytes := peerMessage[:len(peerMessage)-saltSize]
	peerSalt := peerMessage[len(peerMessage)-saltSize:]

	peerX, peerY := elliptic.Unmarshal(e.curve, pointBytes)
	if peerX == nil {
		return errors.New(errors.CommitmentMismatch, "invalid peer point")
	}

	order := e.curve.Params().N
	w := hashToScalar(e.password, order)
	mx, my := blindingPoint(e.curve)
	wx, wy := e.curve.ScalarMult(mx, my, w.Bytes())

	// Subtract the password blinding from the peer's point, then scale
	// by our secret scalar: x * (y*G + w*M - w*M) = xy*G.
	unblindX, unblindY := e.curve.Add(peerX, peerY, wx, negateY(e.curve, wy))
	sharedX, _ := e.curve.ScalarMult(unblindX, unblindY, e.x.Bytes())
	if sharedX == nil || sharedX.Sign() == 0 {
		return errors.New(errors.CommitmentMismatch, "degenerate shared point")
	}

	// Salts are mixed in a canonical order so both sides of the exchange
	// derive an identical key regardless of which one calls Process
	// "first" in wall-clock terms.
	first, second := e.salt, peerSalt
	if bytesGreater(first, second) {
		first, second = second, first
	}

	h := sha256.New()
	h.Write(sharedX.Bytes())
	h.Write(first)
	h.Write(second)
	e.key = h.Sum(nil)[:28]
	return nil
}

func bytesGreater(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return len(a) > len(b)
}

func (e *spakeP224Exchanger) Key() []byte { return e.key }

// unsecureExchanger echoes the code as both message and key. It is only
// wired up when the security-disabled development flag is set (spec.md
// §4.3).
type unsecureExchanger struct {
	password  []byte
	processed bool
}

// NewUnsecureExchanger constructs the development-only pass-through
// exchanger.
func NewUnsecureExchanger(password []byte) models.KeyExchanger {
	return &unsecureExchanger{password: password}
}

func (e *unsecureExchanger) Message() []byte { return e.password }

func (e *unsecureExchanger) Process(peerMessage []byte) error {
	if e.processed {
		return errors.New(errors.InvalidState, "key exchange already processed")
	}
	e.processed = true
	return nil
}

func (e *unsecureExchanger) Key() []byte { return e.password }
