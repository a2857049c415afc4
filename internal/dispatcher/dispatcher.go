// Package dispatcher wires a connection's incoming message stream to the
// auth, ledger, orderbook and matcher packages, and produces the response
// envelope for each request.
package dispatcher

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/a3st/exchanged/internal/auth"
	"github.com/a3st/exchanged/internal/ledger"
	"github.com/a3st/exchanged/internal/matcher"
	"github.com/a3st/exchanged/internal/metrics"
	"github.com/a3st/exchanged/internal/orderbook"
	"github.com/a3st/exchanged/internal/wire"
	"github.com/a3st/exchanged/pkg/logging"
)

// Handler processes one request payload for an authenticated or
// pre-authentication session and returns the response payload.
type Handler func(sessionID uint64, payload json.RawMessage) (interface{}, wire.ErrorCode)

// Dispatcher routes requests by message type to the domain packages.
type Dispatcher struct {
	auth    *auth.LoginSystem
	ledger  *ledger.Ledger
	book    *orderbook.Book
	matcher *matcher.Matcher
	log     *logging.Logger

	handshakes map[uint64]*auth.Handshake
	handlers   map[wire.MessageType]Handler

	supportedCurrencies map[string]bool
}

// New builds a Dispatcher over the given domain packages. currencies lists
// every currency code the exchange accepts wallets and orders for.
func New(a *auth.LoginSystem, l *ledger.Ledger, b *orderbook.Book, m *matcher.Matcher, currencies []string) *Dispatcher {
	supported := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		supported[c] = true
	}

	d := &Dispatcher{
		auth:                a,
		ledger:              l,
		book:                b,
		matcher:             m,
		log:                 logging.GetDefault().Component("dispatcher"),
		handshakes:          make(map[uint64]*auth.Handshake),
		supportedCurrencies: supported,
	}
	d.handlers = map[wire.MessageType]Handler{
		wire.Register:       d.register,
		wire.ChallengeLogin: d.challengeLogin,
		wire.ChallengeProof: d.challengeProof,
		wire.Logout:         d.logout,
		wire.WalletList:     d.walletList,
		wire.MakeRequest:    d.makeRequest,
	}
	return d
}

// OnConnected initializes per-session auth state. Call from the session
// runtime's connection-accepted callback.
func (d *Dispatcher) OnConnected(sessionID uint64) {
	d.auth.InitializeSession(sessionID)
}

// OnClosed tears down per-session state. Call from the session runtime's
// connection-closed callback.
func (d *Dispatcher) OnClosed(sessionID uint64) {
	d.auth.CloseSession(sessionID)
	delete(d.handshakes, sessionID)
}

// Dispatch routes one request envelope to its handler and returns the
// response envelope to write back. A message type with no handler gets an
// Unknown-typed reply carrying AuthFailed; a handler's error code is sent
// in an envelope of the request's own type. Neither closes the connection.
func (d *Dispatcher) Dispatch(sessionID uint64, req wire.Envelope) wire.Envelope {
	handler, ok := d.handlers[req.Type]
	if !ok {
		metrics.RequestsTotal.WithLabelValues("unknown", "1").Inc()
		return errorEnvelope(wire.Unknown, wire.AuthFailed)
	}

	result, code := handler(sessionID, req.Payload)
	metrics.RequestsTotal.WithLabelValues(typeLabel(req.Type), codeLabel(code)).Inc()

	if code != wire.Success {
		return errorEnvelope(req.Type, code)
	}

	body, err := json.Marshal(result)
	if err != nil {
		d.log.Error("marshal response failed", "err", err)
		return errorEnvelope(req.Type, wire.DBFailed)
	}
	return wire.Envelope{Type: req.Type, Payload: body}
}

func errorEnvelope(typ wire.MessageType, code wire.ErrorCode) wire.Envelope {
	body, _ := json.Marshal(struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
	}{ErrorCode: code})
	return wire.Envelope{Type: typ, Payload: body}
}

type registerRequest struct {
	Login    string `json:"login"`
	Verifier string `json:"verifier"`
	Salt     string `json:"salt"`
}

type registerResponse struct {
	ErrorCode wire.ErrorCode `json:"error_code"`
	UserID    int64          `json:"user_id"`
}

// register creates a new account and its wallets, one per supported
// currency, so every user has every wallet from the moment they exist.
func (d *Dispatcher) register(sessionID uint64, payload json.RawMessage) (interface{}, wire.ErrorCode) {
	var req registerRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, wire.ValidationErr
	}
	if req.Login == "" || req.Verifier == "" || req.Salt == "" {
		return nil, wire.ValidationErr
	}
	if d.auth.Exists(req.Login) {
		metrics.AuthFailuresTotal.WithLabelValues("register").Inc()
		return nil, wire.AuthExists
	}

	userID, ok := d.auth.RegisterAccount(req.Login, req.Verifier, req.Salt)
	if !ok {
		return nil, wire.DBFailed
	}
	for currency := range d.supportedCurrencies {
		if _, err := d.ledger.CreateWallet(userID, currency); err != nil {
			return nil, wire.DBFailed
		}
	}
	return registerResponse{ErrorCode: wire.Success, UserID: userID}, wire.Success
}

type challengeLoginRequest struct {
	Login    string `json:"login"`
	Verifier string `json:"verifier"`
}

type challengeLoginResponse struct {
	ErrorCode wire.ErrorCode `json:"error_code"`
	Salt      string         `json:"salt"`
	B         string         `json:"b"`
}

// challengeLogin verifies the client-supplied verifier against the stored
// one via login_account, then begins the SRP handshake: it computes B and
// stashes the in-flight Handshake keyed by session so challengeProof can
// complete it.
func (d *Dispatcher) challengeLogin(sessionID uint64, payload json.RawMessage) (interface{}, wire.ErrorCode) {
	var req challengeLoginRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, wire.ValidationErr
	}

	verifier, salt, ok := d.auth.Verifier(req.Login)
	if !ok {
		metrics.AuthFailuresTotal.WithLabelValues("challenge_login").Inc()
		return nil, wire.AuthNotFound
	}

	if !d.auth.LoginAccount(req.Login, req.Verifier, sessionID) {
		metrics.AuthFailuresTotal.WithLabelValues("challenge_login").Inc()
		return nil, wire.AuthFailed
	}

	h := &auth.Handshake{}
	B, err := h.Step1(verifier)
	if err != nil {
		d.log.Warn("srp step1 failed", "login", req.Login, "err", err)
		metrics.AuthFailuresTotal.WithLabelValues("challenge_login").Inc()
		return nil, wire.AuthFailed
	}
	d.handshakes[sessionID] = h

	return challengeLoginResponse{ErrorCode: wire.Success, Salt: salt, B: B}, wire.Success
}

type challengeProofRequest struct {
	A  string `json:"a"`
	M1 string `json:"m1"`
}

type challengeProofResponse struct {
	ErrorCode wire.ErrorCode `json:"error_code"`
	M2        string         `json:"m2"`
}

// challengeProof completes the SRP handshake, verifying the client's
// evidence M1 before authenticating the session and computing the server's
// evidence M2.
func (d *Dispatcher) challengeProof(sessionID uint64, payload json.RawMessage) (interface{}, wire.ErrorCode) {
	var req challengeProofRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, wire.ValidationErr
	}

	h, ok := d.handshakes[sessionID]
	if !ok {
		return nil, wire.AuthFailed
	}

	S, err := h.Step2(req.A)
	if err != nil {
		d.log.Warn("srp step2 failed", "err", err)
		metrics.AuthFailuresTotal.WithLabelValues("challenge_proof").Inc()
		return nil, wire.AuthFailed
	}

	expectedM1, err := auth.ClientEvidence(req.A, h.B.Text(16), S)
	if err != nil || expectedM1 != req.M1 {
		metrics.AuthFailuresTotal.WithLabelValues("challenge_proof").Inc()
		return nil, wire.AuthFailed
	}

	M2, err := auth.ServerEvidence(req.A, req.M1, S)
	if err != nil {
		return nil, wire.AuthFailed
	}

	d.auth.LoginSession(sessionID)
	delete(d.handshakes, sessionID)

	return challengeProofResponse{ErrorCode: wire.Success, M2: M2}, wire.Success
}

// logout flips the session back to unauthenticated.
func (d *Dispatcher) logout(sessionID uint64, _ json.RawMessage) (interface{}, wire.ErrorCode) {
	if !d.auth.AuthSession(sessionID) {
		return nil, wire.Restricted
	}
	d.auth.LogoutSession(sessionID)
	return struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
	}{ErrorCode: wire.Success}, wire.Success
}

type walletListResponse struct {
	ErrorCode wire.ErrorCode    `json:"error_code"`
	Wallets   []walletListEntry `json:"wallets"`
}

type walletListEntry struct {
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

// walletList reports every wallet and balance owned by the authenticated
// session's user.
func (d *Dispatcher) walletList(sessionID uint64, _ json.RawMessage) (interface{}, wire.ErrorCode) {
	if !d.auth.AuthSession(sessionID) {
		return nil, wire.Restricted
	}
	userID := d.auth.UserID(sessionID)

	wallets, err := d.ledger.Wallets(int64(userID))
	if err != nil {
		return nil, wire.DBFailed
	}

	entries := make([]walletListEntry, 0, len(wallets))
	for _, w := range wallets {
		entries = append(entries, walletListEntry{Currency: w.Currency, Balance: w.Balance.String()})
	}
	return walletListResponse{ErrorCode: wire.Success, Wallets: entries}, wire.Success
}

type makeRequestRequest struct {
	Pair   string `json:"pair"`
	Amount string `json:"amount"`
	Price  string `json:"price"`
	Side   int    `json:"side"`
}

type makeRequestResponse struct {
	ErrorCode wire.ErrorCode `json:"error_code"`
	RequestID string         `json:"request_id"`
}

// makeRequest validates and inserts a new order, then immediately runs one
// matcher pass so the new order is matched (or left open) before the
// response is sent.
func (d *Dispatcher) makeRequest(sessionID uint64, payload json.RawMessage) (interface{}, wire.ErrorCode) {
	if !d.auth.AuthSession(sessionID) {
		return nil, wire.Restricted
	}
	userID := d.auth.UserID(sessionID)

	var req makeRequestRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, wire.ValidationErr
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, wire.ValidationErr
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		return nil, wire.ValidationErr
	}
	if !d.pairSupported(req.Pair) {
		return nil, wire.ValidationErr
	}

	side := orderbook.Side(req.Side)
	if side != orderbook.Buy && side != orderbook.Sell {
		return nil, wire.ValidationErr
	}

	ok, err := d.book.MakeRequest(int64(userID), req.Pair, amount, price, side)
	if err != nil || !ok {
		return nil, wire.DBFailed
	}
	metrics.OrdersTotal.WithLabelValues(sideLabel(side)).Inc()

	if err := d.matcher.ProcessRequests(); err != nil {
		d.log.Error("matcher pass failed after make_request", "err", err)
	}

	return makeRequestResponse{ErrorCode: wire.Success, RequestID: uuid.NewString()}, wire.Success
}

func (d *Dispatcher) pairSupported(pair string) bool {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '/' {
			return d.supportedCurrencies[pair[:i]] && d.supportedCurrencies[pair[i+1:]]
		}
	}
	return false
}

func sideLabel(s orderbook.Side) string {
	if s == orderbook.Buy {
		return "buy"
	}
	return "sell"
}

func typeLabel(t wire.MessageType) string {
	switch t {
	case wire.ChallengeLogin:
		return "challenge_login"
	case wire.ChallengeProof:
		return "challenge_proof"
	case wire.Logout:
		return "logout"
	case wire.Register:
		return "register"
	case wire.WalletList:
		return "wallet_list"
	case wire.MakeRequest:
		return "make_request"
	default:
		return "unknown"
	}
}

func codeLabel(c wire.ErrorCode) string {
	switch c {
	case wire.Success:
		return "0"
	case wire.AuthFailed:
		return "1"
	case wire.AuthNotFound:
		return "2"
	case wire.AuthExists:
		return "3"
	case wire.DBFailed:
		return "4"
	case wire.Restricted:
		return "5"
	default:
		return "6"
	}
}
