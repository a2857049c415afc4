// Command exchange-client is an interactive terminal client for the
// exchange server: register, log in, check wallet balances, and place
// orders.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/a3st/exchanged/internal/auth"
	"github.com/a3st/exchanged/internal/wire"
)

type options struct {
	Connect string `short:"c" long:"connect" default:"127.0.0.1" description:"Server address"`
	Port    uint16 `short:"p" long:"port" default:"5555" description:"Server port"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	addr := net.JoinHostPort(opts.Connect, strconv.Itoa(int(opts.Port)))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Println("failed to connect:", err)
		os.Exit(1)
	}
	defer conn.Close()

	c := &client{
		conn:   conn,
		reader: wire.NewReader(conn),
		writer: wire.NewWriter(conn),
		stdin:  bufio.NewReader(os.Stdin),
	}
	c.run()
}

type client struct {
	conn   net.Conn
	reader *wire.Reader
	writer *wire.Writer
	stdin  *bufio.Reader

	loggedIn bool
	login    string
}

func (c *client) run() {
	for {
		if c.loggedIn {
			c.accountMenu()
		} else {
			if !c.loginMenu() {
				return
			}
		}
	}
}

func (c *client) loginMenu() bool {
	fmt.Println("\nMenu:\n1) Register\n2) Login\n3) Exit")
	switch c.promptOption() {
	case 1:
		c.doRegister()
	case 2:
		c.doLogin()
	case 3:
		return false
	default:
		fmt.Println("unknown menu option")
	}
	return true
}

func (c *client) accountMenu() {
	fmt.Println("\nAccount Menu:\n1) My Wallet\n2) Make Request\n3) Logout")
	switch c.promptOption() {
	case 1:
		c.doWalletList()
	case 2:
		c.doMakeRequest()
	case 3:
		c.doLogout()
	default:
		fmt.Println("unknown menu option")
	}
}

func (c *client) doRegister() {
	login := c.prompt("Login: ")
	password := c.prompt("Password: ")

	verifier := auth.ComputeVerifier(login, password)
	req := struct {
		Login    string `json:"login"`
		Verifier string `json:"verifier"`
		Salt     string `json:"salt"`
	}{Login: login, Verifier: verifier, Salt: fmt.Sprintf("%x", auth.ClientSalt)}

	var resp struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
	}
	if !c.roundTrip(wire.Register, req, &resp) {
		return
	}
	if resp.ErrorCode != wire.Success {
		fmt.Println("registration failed, a user with that login may already exist")
		return
	}
	fmt.Println("account registered")
}

func (c *client) doLogin() {
	login := c.prompt("Login: ")
	password := c.prompt("Password: ")

	handshake, A, err := auth.NewClientHandshake(login, password)
	if err != nil {
		fmt.Println("handshake setup failed:", err)
		return
	}
	verifier := auth.ComputeVerifier(login, password)

	var challengeResp struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
		Salt      string         `json:"salt"`
		B         string         `json:"b"`
	}
	challengeReq := struct {
		Login    string `json:"login"`
		Verifier string `json:"verifier"`
	}{Login: login, Verifier: verifier}
	if !c.roundTrip(wire.ChallengeLogin, challengeReq, &challengeResp) {
		return
	}
	if challengeResp.ErrorCode != wire.Success {
		fmt.Println("login or password is incorrect")
		return
	}

	m1, err := handshake.ComputeProof(challengeResp.B)
	if err != nil {
		fmt.Println("login or password is incorrect")
		return
	}

	var proofResp struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
		M2        string         `json:"m2"`
	}
	proofReq := struct {
		A  string `json:"a"`
		M1 string `json:"m1"`
	}{A: A, M1: m1}
	if !c.roundTrip(wire.ChallengeProof, proofReq, &proofResp) {
		return
	}
	if proofResp.ErrorCode != wire.Success {
		fmt.Println("login or password is incorrect")
		return
	}

	ok, err := handshake.VerifyServerEvidence(m1, proofResp.M2)
	if err != nil || !ok {
		fmt.Println("server failed to prove knowledge of the password, aborting")
		return
	}

	fmt.Printf("welcome, %s!\n", login)
	c.loggedIn = true
	c.login = login
}

func (c *client) doLogout() {
	var resp struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
	}
	c.roundTrip(wire.Logout, struct{}{}, &resp)
	c.loggedIn = false
	c.login = ""
}

func (c *client) doWalletList() {
	var resp struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
		Wallets   []struct {
			Currency string `json:"currency"`
			Balance  string `json:"balance"`
		} `json:"wallets"`
	}
	if !c.roundTrip(wire.WalletList, struct{}{}, &resp) {
		return
	}
	for _, w := range resp.Wallets {
		fmt.Printf("  %-6s %s\n", w.Currency, w.Balance)
	}
}

func (c *client) doMakeRequest() {
	pair := c.prompt("Pair (e.g. USD/RUB): ")
	amount := c.prompt("Amount: ")
	price := c.prompt("Price: ")
	sideStr := c.prompt("Side (buy/sell): ")

	side := 0
	if strings.EqualFold(strings.TrimSpace(sideStr), "sell") {
		side = 1
	}

	req := struct {
		Pair   string `json:"pair"`
		Amount string `json:"amount"`
		Price  string `json:"price"`
		Side   int    `json:"side"`
	}{Pair: pair, Amount: amount, Price: price, Side: side}

	var resp struct {
		ErrorCode wire.ErrorCode `json:"error_code"`
		RequestID string         `json:"request_id"`
	}
	if !c.roundTrip(wire.MakeRequest, req, &resp) {
		return
	}
	if resp.ErrorCode != wire.Success {
		fmt.Println("request rejected")
		return
	}
	fmt.Println("request accepted:", resp.RequestID)
}

func (c *client) roundTrip(typ wire.MessageType, req, resp interface{}) bool {
	if err := c.writer.WritePayload(typ, req); err != nil {
		fmt.Println("write failed:", err)
		return false
	}
	env, err := c.reader.ReadEnvelope()
	if err != nil {
		fmt.Println("read failed:", err)
		return false
	}
	if err := json.Unmarshal(env.Payload, resp); err != nil {
		fmt.Println("unknown response from server")
		return false
	}
	return true
}

func (c *client) prompt(label string) string {
	fmt.Print(label)
	line, _ := c.stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

func (c *client) promptOption() int {
	fmt.Print("Select: ")
	line, _ := c.stdin.ReadString('\n')
	n, _ := strconv.Atoi(strings.TrimSpace(line))
	return n
}
