package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	payload := struct {
		Login string `json:"login"`
	}{Login: "alice"}

	if err := w.WritePayload(Register, payload); err != nil {
		t.Fatalf("WritePayload() error = %v", err)
	}

	r := NewReader(&buf)
	env, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope() error = %v", err)
	}
	if env.Type != Register {
		t.Errorf("env.Type = %d, want %d", env.Type, Register)
	}

	var got struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal payload error = %v", err)
	}
	if got.Login != "alice" {
		t.Errorf("payload.Login = %s, want alice", got.Login)
	}
}

func TestReadEnvelopeConsumesExactlyOneFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WritePayload(WalletList, struct{}{}); err != nil {
		t.Fatalf("WritePayload() error = %v", err)
	}
	if err := w.WritePayload(Logout, struct{}{}); err != nil {
		t.Fatalf("WritePayload() error = %v", err)
	}

	r := NewReader(&buf)
	first, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope() error = %v", err)
	}
	if first.Type != WalletList {
		t.Errorf("first frame type = %d, want %d", first.Type, WalletList)
	}

	second, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope() error = %v", err)
	}
	if second.Type != Logout {
		t.Errorf("second frame type = %d, want %d", second.Type, Logout)
	}
}

func TestWriteEnvelopeAppendsNULTerminator(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.WritePayload(Unknown, struct{}{}); err != nil {
		t.Fatalf("WritePayload() error = %v", err)
	}

	b := buf.Bytes()
	if len(b) == 0 || b[len(b)-1] != 0 {
		t.Error("written frame does not end with a NUL byte")
	}
}

func TestMessageTypesAreDistinctBitFlags(t *testing.T) {
	types := []MessageType{Unknown, ChallengeLogin, ChallengeProof, Logout, Register, WalletList, MakeRequest}
	seen := MessageType(0)
	for _, typ := range types {
		if seen&typ != 0 {
			t.Errorf("message type %d overlaps with an earlier one", typ)
		}
		seen |= typ
	}
}
