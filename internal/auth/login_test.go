package auth

import (
	"os"
	"testing"

	"github.com/a3st/exchanged/internal/storage"
)

func newTestLoginSystem(t *testing.T) *LoginSystem {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "exchange-auth-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	store, err := storage.New(&storage.Config{DataDir: tmpDir})
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(store.DB())
}

func TestRegisterAndExists(t *testing.T) {
	l := newTestLoginSystem(t)

	if l.Exists("alice") {
		t.Fatal("Exists() = true before registration")
	}

	id, ok := l.RegisterAccount("alice", "deadbeef", "cafebabe")
	if !ok || id == 0 {
		t.Fatalf("RegisterAccount() = %v, %v", id, ok)
	}

	if !l.Exists("alice") {
		t.Error("Exists() = false after registration")
	}
}

func TestSessionLifecycle(t *testing.T) {
	l := newTestLoginSystem(t)
	const sessionID = 1

	l.InitializeSession(sessionID)
	if l.AuthSession(sessionID) {
		t.Error("AuthSession() = true for a freshly initialized session")
	}
	if l.UserID(sessionID) != unboundUserID {
		t.Errorf("UserID() = %d, want unbound", l.UserID(sessionID))
	}

	id, ok := l.RegisterAccount("bob", "abc123", "salt")
	if !ok {
		t.Fatal("RegisterAccount() failed")
	}

	if !l.LoginAccount("bob", "abc123", sessionID) {
		t.Fatal("LoginAccount() failed for matching verifier")
	}
	if got := l.UserID(sessionID); got != uint64(id) {
		t.Errorf("UserID() = %d, want %d", got, id)
	}

	l.LoginSession(sessionID)
	if !l.AuthSession(sessionID) {
		t.Error("AuthSession() = false after LoginSession()")
	}

	l.LogoutSession(sessionID)
	if l.AuthSession(sessionID) {
		t.Error("AuthSession() = true after LogoutSession()")
	}
	// The user binding survives logout.
	if got := l.UserID(sessionID); got != uint64(id) {
		t.Errorf("UserID() after logout = %d, want %d", got, id)
	}

	l.CloseSession(sessionID)
	if l.AuthSession(sessionID) {
		t.Error("AuthSession() = true for a closed session")
	}
}

func TestLoginAccountRejectsWrongVerifier(t *testing.T) {
	l := newTestLoginSystem(t)
	const sessionID = 1
	l.InitializeSession(sessionID)

	if _, ok := l.RegisterAccount("carol", "goodverifier", "salt"); !ok {
		t.Fatal("RegisterAccount() failed")
	}

	if l.LoginAccount("carol", "badverifier", sessionID) {
		t.Error("LoginAccount() succeeded with the wrong verifier")
	}
}

func TestVerifierLookup(t *testing.T) {
	l := newTestLoginSystem(t)

	if _, _, ok := l.Verifier("nobody"); ok {
		t.Error("Verifier() found a user that was never registered")
	}

	if _, ok := l.RegisterAccount("dave", "verifierhex", "salthex"); !ok {
		t.Fatal("RegisterAccount() failed")
	}

	verifier, salt, ok := l.Verifier("dave")
	if !ok {
		t.Fatal("Verifier() did not find a registered user")
	}
	if verifier != "verifierhex" || salt != "salthex" {
		t.Errorf("Verifier() = (%s, %s), want (verifierhex, salthex)", verifier, salt)
	}
}
