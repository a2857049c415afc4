// Package auth implements the user registry and per-session authentication
// state (LoginSystem), and the SRP-6a server handshake state machine
// (Handshake) that binds a network session to a user identity.
package auth

import (
	"database/sql"
	"math"
	"sync"

	"github.com/a3st/exchanged/pkg/logging"
)

// sessionAuth is the per-session entry the original system keeps as
// (authenticated bool, user_id u64).
type sessionAuth struct {
	authenticated bool
	userID        uint64
}

const unboundUserID = math.MaxUint64

// LoginSystem owns the users table and the in-memory per-session
// authentication map.
type LoginSystem struct {
	db  *sql.DB
	log *logging.Logger

	mu       sync.Mutex
	sessions map[uint64]*sessionAuth
}

// New returns a LoginSystem backed by db.
func New(db *sql.DB) *LoginSystem {
	return &LoginSystem{
		db:       db,
		log:      logging.GetDefault().Component("auth"),
		sessions: make(map[uint64]*sessionAuth),
	}
}

// InitializeSession creates the session's auth entry: unauthenticated, no
// bound user. Called from the session runtime's OnConnected callback.
func (l *LoginSystem) InitializeSession(sessionID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[sessionID] = &sessionAuth{authenticated: false, userID: unboundUserID}
}

// CloseSession removes the session's auth entry. Called from OnClosed.
func (l *LoginSystem) CloseSession(sessionID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Exists reports whether username is already registered.
func (l *LoginSystem) Exists(username string) bool {
	var id int64
	err := l.db.QueryRow("SELECT id FROM users WHERE login = ?", username).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		l.log.Error("exists check failed", "username", username, "err", err)
	}
	return err == nil
}

// RegisterAccount creates a new user row with the given verifier. Returns
// the new user's id on success.
func (l *LoginSystem) RegisterAccount(username, verifier, salt string) (int64, bool) {
	res, err := l.db.Exec(
		"INSERT INTO users (login, salt, verifier, created_at) VALUES (?, ?, ?, strftime('%s','now'))",
		username, salt, verifier,
	)
	if err != nil {
		l.log.Error("register account failed", "username", username, "err", err)
		return 0, false
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false
	}
	return id, true
}

// LoginAccount checks username/verifier against the stored row and, on
// match, binds the resolved user id to sessionID. Returns false on mismatch
// or unknown user.
func (l *LoginSystem) LoginAccount(username, verifier string, sessionID uint64) bool {
	var id int64
	err := l.db.QueryRow("SELECT id FROM users WHERE login = ? AND verifier = ?", username, verifier).Scan(&id)
	if err != nil {
		if err != sql.ErrNoRows {
			l.log.Error("login account query failed", "username", username, "err", err)
		}
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	session, ok := l.sessions[sessionID]
	if !ok {
		return false
	}
	session.userID = uint64(id)
	return true
}

// Verifier returns the stored SRP verifier and salt for username, used by
// Handshake.Step1 to begin the challenge. ok is false for an unknown user.
func (l *LoginSystem) Verifier(username string) (verifier, salt string, ok bool) {
	err := l.db.QueryRow("SELECT verifier, salt FROM users WHERE login = ?", username).Scan(&verifier, &salt)
	if err != nil {
		if err != sql.ErrNoRows {
			l.log.Error("verifier lookup failed", "username", username, "err", err)
		}
		return "", "", false
	}
	return verifier, salt, true
}

// LoginSession flips the session's authenticated flag to true.
func (l *LoginSystem) LoginSession(sessionID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if session, ok := l.sessions[sessionID]; ok {
		session.authenticated = true
	}
}

// LogoutSession flips the session's authenticated flag to false. The bound
// user id is retained, matching the source's behavior.
func (l *LoginSystem) LogoutSession(sessionID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if session, ok := l.sessions[sessionID]; ok {
		session.authenticated = false
	}
}

// AuthSession reports whether sessionID has completed the SRP handshake.
func (l *LoginSystem) AuthSession(sessionID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	session, ok := l.sessions[sessionID]
	return ok && session.authenticated
}

// UserID returns the user id bound to sessionID. Only meaningful once
// LoginAccount has succeeded for that session.
func (l *LoginSystem) UserID(sessionID uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	session, ok := l.sessions[sessionID]
	if !ok {
		return unboundUserID
	}
	return session.userID
}
