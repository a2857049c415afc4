package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// ClientSalt is the fixed 16-byte salt every client uses to derive its
// verifier. The client sends its hex form with Register and the server
// stores it and returns it in the ChallengeLogin reply, but the server's
// side of the handshake only uses the verifier.
var ClientSalt = []byte{202, 2, 57, 19, 34, 151, 47, 212, 76, 240, 117, 65, 147, 73, 219, 123}

// ComputeVerifier derives the SRP verifier v = g^x % N for a login/password
// pair, x = H(salt | H(login ":" password)).
func ComputeVerifier(login, password string) string {
	x := computeX(login, password, ClientSalt)
	v := new(big.Int).Exp(srpG, x, srpN)
	return v.Text(16)
}

func computeX(login, password string, salt []byte) *big.Int {
	inner := sha256.Sum256([]byte(login + ":" + password))
	outer := sha256.New()
	outer.Write(salt)
	outer.Write(inner[:])
	return new(big.Int).SetBytes(outer.Sum(nil))
}

// ClientHandshake drives one client-side SRP-6a exchange.
type ClientHandshake struct {
	login, password string
	a               *big.Int
	A               *big.Int
	S               *big.Int
}

// NewClientHandshake generates the client's ephemeral keypair (a, A) and
// returns A (hex) to send alongside M1 in a ChallengeProof request.
func NewClientHandshake(login, password string) (*ClientHandshake, string, error) {
	a, err := rand.Int(rand.Reader, srpN)
	if err != nil {
		return nil, "", fmt.Errorf("auth: generate a: %w", err)
	}
	A := new(big.Int).Exp(srpG, a, srpN)
	if A.Sign() == 0 {
		return nil, "", fmt.Errorf("auth: degenerate A")
	}
	return &ClientHandshake{login: login, password: password, a: a, A: A}, A.Text(16), nil
}

// ComputeProof derives the shared secret from the server's B (hex) and
// returns the client's evidence M1 (hex) to send in a ChallengeProof
// request.
func (c *ClientHandshake) ComputeProof(Bhex string) (string, error) {
	B, ok := new(big.Int).SetString(Bhex, 16)
	if !ok {
		return "", fmt.Errorf("auth: malformed B")
	}
	if new(big.Int).Mod(B, srpN).Sign() == 0 {
		return "", fmt.Errorf("auth: degenerate B")
	}

	u := computeU(c.A, B)
	if u.Sign() == 0 {
		return "", fmt.Errorf("auth: degenerate u")
	}
	x := computeX(c.login, c.password, ClientSalt)

	// S = (B - k*g^x) ^ (a + u*x) % N
	gx := new(big.Int).Exp(srpG, x, srpN)
	kgx := new(big.Int).Mul(srpK, gx)
	base := new(big.Int).Sub(B, kgx)
	base.Mod(base, srpN)
	exp := new(big.Int).Mul(u, x)
	exp.Add(exp, c.a)
	S := new(big.Int).Exp(base, exp, srpN)
	c.S = S

	return ClientEvidence(c.A.Text(16), Bhex, S.Text(16))
}

// VerifyServerEvidence checks the server's M2 (hex) against the shared
// secret computed by ComputeProof, given the M1 the client sent.
func (c *ClientHandshake) VerifyServerEvidence(M1hex, M2hex string) (bool, error) {
	expected, err := ServerEvidence(c.A.Text(16), M1hex, c.S.Text(16))
	if err != nil {
		return false, err
	}
	return expected == M2hex, nil
}
