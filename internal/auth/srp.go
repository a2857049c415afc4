package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// RFC 5054's 1024-bit group. The protocol this module reimplements pins the
// same group and hash (SHA-256) on both client and server; there is no
// negotiation step.
var (
	srpN, _ = new(big.Int).SetString(
		"EEAF0AB9ADB38DD69C33F80AFA8FC5E86072618775FF3C0B9EA2314C9C25657"+
			"6D674DF7496EA81D3383B4813D692C6E0E0D5D8E250B98BE48E495C1D6089D"+
			"AD15DC7D7B46154D6B6CE8EF4AD69B15D4982559B297BCF1885C529F566660"+
			"E57EC68EDBC3C05726CC02FD4CBF4976EAA9AFD5138FE8376435B9FC61D2FC"+
			"0EB06E3",
		16,
	)
	srpG = big.NewInt(2)
	srpK = computeK(srpN, srpG)
)

func computeK(n, g *big.Int) *big.Int {
	h := sha256.New()
	h.Write(padTo(n, n.Bytes()))
	h.Write(padTo(n, g.Bytes()))
	return new(big.Int).SetBytes(h.Sum(nil))
}

func padTo(n *big.Int, b []byte) []byte {
	size := (n.BitLen() + 7) / 8
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// Handshake drives one server-side SRP-6a exchange. The dispatcher creates
// one per ChallengeLogin and drops it once the client's proof is accepted
// or the session closes; it holds no long-term state. The handshake never
// uses the salt the verifier was derived from, only the stored verifier.
type Handshake struct {
	v *big.Int // stored verifier
	b *big.Int // server's ephemeral secret
	B *big.Int // server's ephemeral public value
	A *big.Int // client's ephemeral public value, set by Step2
	S *big.Int // derived shared secret, set by Step2
}

// Step1 begins the handshake against the user's stored verifier (hex) and
// returns the server's public ephemeral value B (hex).
func (h *Handshake) Step1(verifierHex string) (string, error) {
	v, ok := new(big.Int).SetString(verifierHex, 16)
	if !ok {
		return "", fmt.Errorf("auth: malformed verifier")
	}
	h.v = v

	b, err := rand.Int(rand.Reader, srpN)
	if err != nil {
		return "", fmt.Errorf("auth: generate b: %w", err)
	}
	h.b = b

	// B = (k*v + g^b) % N
	gb := new(big.Int).Exp(srpG, b, srpN)
	kv := new(big.Int).Mul(srpK, v)
	B := new(big.Int).Add(kv, gb)
	B.Mod(B, srpN)
	if B.Sign() == 0 {
		return "", fmt.Errorf("auth: degenerate B")
	}
	h.B = B

	return B.Text(16), nil
}

// Step2 completes the handshake against the client's public ephemeral value
// A (hex) and returns the derived shared secret S (hex). The caller is
// responsible for deriving and comparing the client's proof (M1) against
// this secret before calling LoginSession.
func (h *Handshake) Step2(Ahex string) (string, error) {
	A, ok := new(big.Int).SetString(Ahex, 16)
	if !ok {
		return "", fmt.Errorf("auth: malformed A")
	}
	if new(big.Int).Mod(A, srpN).Sign() == 0 {
		return "", fmt.Errorf("auth: degenerate A")
	}
	h.A = A

	u := computeU(h.A, h.B)
	if u.Sign() == 0 {
		return "", fmt.Errorf("auth: degenerate u")
	}

	// S = (A * v^u) ^ b % N
	vu := new(big.Int).Exp(h.v, u, srpN)
	base := new(big.Int).Mul(A, vu)
	base.Mod(base, srpN)
	S := new(big.Int).Exp(base, h.b, srpN)
	h.S = S

	return S.Text(16), nil
}

func computeU(A, B *big.Int) *big.Int {
	hh := sha256.New()
	hh.Write(padTo(srpN, A.Bytes()))
	hh.Write(padTo(srpN, B.Bytes()))
	return new(big.Int).SetBytes(hh.Sum(nil))
}

// ServerEvidence computes M2, the server's proof of the shared secret,
// derived from A, the client's proof M1, and S. Used to answer a
// ChallengeProof request once the client's M1 has been verified.
//
// M2 = SHA256(hex(A) || hex(M1) || hex(S)), hashing the ASCII hex-string
// text itself rather than the parsed integers' bytes, so the result matches
// a spec-conformant counterpart byte for byte.
func ServerEvidence(Ahex, M1hex, Shex string) (string, error) {
	if _, ok := new(big.Int).SetString(Ahex, 16); !ok {
		return "", fmt.Errorf("auth: malformed A")
	}
	if _, ok := new(big.Int).SetString(M1hex, 16); !ok {
		return "", fmt.Errorf("auth: malformed M1")
	}
	if _, ok := new(big.Int).SetString(Shex, 16); !ok {
		return "", fmt.Errorf("auth: malformed S")
	}

	h := sha256.New()
	h.Write([]byte(Ahex))
	h.Write([]byte(M1hex))
	h.Write([]byte(Shex))
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// ClientEvidence computes M1 for comparison against what the client sends in
// its ChallengeProof request.
//
// M1 = SHA256(hex(A) || hex(B) || hex(S)), hashing the ASCII hex-string text
// itself rather than the parsed integers' bytes (see ServerEvidence).
func ClientEvidence(Ahex, Bhex, Shex string) (string, error) {
	if _, ok := new(big.Int).SetString(Ahex, 16); !ok {
		return "", fmt.Errorf("auth: malformed A")
	}
	if _, ok := new(big.Int).SetString(Bhex, 16); !ok {
		return "", fmt.Errorf("auth: malformed B")
	}
	if _, ok := new(big.Int).SetString(Shex, 16); !ok {
		return "", fmt.Errorf("auth: malformed S")
	}

	h := sha256.New()
	h.Write([]byte(Ahex))
	h.Write([]byte(Bhex))
	h.Write([]byte(Shex))
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
