package managesieve

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/helpers"
	"github.com/migadu/sieveforge/logger"
)

// maxLiteral bounds literals read from the server.
const maxLiteral = 1 << 20

// Capabilities is what the server announced.
type Capabilities struct {
	Implementation string
	Version        string
	Sieve          []string
	SASL           []string
	StartTLS       bool
	MaxRedirects   int
}

// HasExtension reports whether the server supports a Sieve extension.
func (c Capabilities) HasExtension(ext string) bool {
	for _, e := range c.Sieve {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Script is one entry of LISTSCRIPTS.
type Script struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ResponseError is a NO or BYE from the server.
type ResponseError struct {
	Command string
	Status  string
	Code    string
	Text    string
}

func (e *ResponseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Command)
	b.WriteString(": ")
	b.WriteString(e.Status)
	if e.Code != "" {
		b.WriteString(" (" + e.Code + ")")
	}
	if e.Text != "" {
		b.WriteString(" " + e.Text)
	}
	return b.String()
}

func (e *ResponseError) Unwrap() error {
	switch {
	case strings.HasPrefix(e.Code, "NONEXISTENT"):
		return consts.ErrScriptNotFound
	case e.Command == "PUTSCRIPT" || e.Command == "CHECKSCRIPT":
		return consts.ErrScriptRejected
	}
	return nil
}

// Client is a single ManageSieve connection. It is not safe for concurrent
// use.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	caps    Capabilities
	timeout time.Duration
	closed  bool
}

// Dial connects to addr and reads the greeting. With useTLS the connection
// is TLS from the start; otherwise STARTTLS is used when the server offers
// it and tlsConfig is not nil.
func Dial(ctx context.Context, addr string, useTLS bool, tlsConfig *tls.Config, timeout time.Duration) (*Client, error) {
	d := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error
	if useTLS {
		conn, err = (&tls.Dialer{NetDialer: d, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	c, err := NewClient(conn, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if !useTLS && tlsConfig != nil && c.caps.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewClient reads the capability greeting from an open connection.
func NewClient(conn net.Conn, timeout time.Duration) (*Client, error) {
	c := &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		timeout: timeout,
	}
	c.deadline()
	if err := c.readCapabilities("greeting"); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Capabilities() Capabilities {
	return c.caps
}

func (c *Client) deadline() {
	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
}

// StartTLS upgrades the connection and reads the new capabilities.
func (c *Client) StartTLS(cfg *tls.Config) error {
	if _, err := c.cmd("STARTTLS", "STARTTLS"); err != nil {
		return err
	}
	tlsConn := tls.Client(c.conn, cfg)
	c.conn = tlsConn
	c.deadline()
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("tls handshake: %w", err)
	}
	c.r = bufio.NewReader(tlsConn)
	c.w = bufio.NewWriter(tlsConn)
	return c.readCapabilities("STARTTLS")
}

// Authenticate logs in with SASL PLAIN.
func (c *Client) Authenticate(username, password string) error {
	client := sasl.NewPlainClient("", username, password)
	mech, ir, err := client.Start()
	if err != nil {
		return err
	}

	c.deadline()
	line := "AUTHENTICATE " + quote(mech)
	if ir != nil {
		line += " " + quote(base64.StdEncoding.EncodeToString(ir))
	}
	if err := c.send(line); err != nil {
		return err
	}

	for {
		tokens, err := c.readTokens()
		if err != nil {
			return err
		}
		if len(tokens) > 0 && isStatus(tokens[0]) {
			_, err := c.result("AUTHENTICATE", tokens, nil)
			return err
		}
		if len(tokens) != 1 {
			return fmt.Errorf("%w: unexpected SASL challenge %q", consts.ErrProtocol, tokens)
		}
		challenge, err := base64.StdEncoding.DecodeString(tokens[0])
		if err != nil {
			return fmt.Errorf("%w: bad SASL challenge: %v", consts.ErrProtocol, err)
		}
		resp, err := client.Next(challenge)
		if err != nil {
			c.send(`"*"`)
			return err
		}
		if err := c.send(quote(base64.StdEncoding.EncodeToString(resp))); err != nil {
			return err
		}
	}
}

// ListScripts returns every script of the user.
func (c *Client) ListScripts() ([]Script, error) {
	lines, err := c.cmd("LISTSCRIPTS", "LISTSCRIPTS")
	if err != nil {
		return nil, err
	}
	scripts := make([]Script, 0, len(lines))
	for _, l := range lines {
		if len(l) == 0 {
			continue
		}
		s := Script{Name: l[0]}
		if len(l) > 1 && strings.EqualFold(l[1], "ACTIVE") {
			s.Active = true
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// ActiveScript returns the name of the active script, or "" if none is.
func (c *Client) ActiveScript() (string, error) {
	scripts, err := c.ListScripts()
	if err != nil {
		return "", err
	}
	for _, s := range scripts {
		if s.Active {
			return s.Name, nil
		}
	}
	return "", nil
}

func (c *Client) GetScript(name string) (string, error) {
	lines, err := c.cmd("GETSCRIPT", "GETSCRIPT "+quote(name))
	if err != nil {
		return "", err
	}
	if len(lines) == 0 || len(lines[0]) == 0 {
		return "", fmt.Errorf("%w: GETSCRIPT returned no script", consts.ErrProtocol)
	}
	return lines[0][0], nil
}

// PutScript stores a script; the server checks it first. A rejection
// unwraps to consts.ErrScriptRejected with the server's reason in Text.
func (c *Client) PutScript(name, script string) error {
	_, err := c.cmd("PUTSCRIPT", "PUTSCRIPT "+quote(name)+" "+literal(script), script)
	return err
}

// CheckScript asks the server to verify a script without storing it.
func (c *Client) CheckScript(script string) error {
	_, err := c.cmd("CHECKSCRIPT", "CHECKSCRIPT "+literal(script), script)
	return err
}

// SetActive activates name; an empty name deactivates every script.
func (c *Client) SetActive(name string) error {
	_, err := c.cmd("SETACTIVE", "SETACTIVE "+quote(name))
	return err
}

func (c *Client) DeleteScript(name string) error {
	_, err := c.cmd("DELETESCRIPT", "DELETESCRIPT "+quote(name))
	return err
}

// Logout ends the session and closes the connection.
func (c *Client) Logout() error {
	_, err := c.cmd("LOGOUT", "LOGOUT")
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// cmd sends one command, followed by an optional literal payload, and
// collects the data lines before the final status.
func (c *Client) cmd(name, line string, payload ...string) ([][]string, error) {
	if c.closed {
		return nil, consts.ErrNotConnected
	}
	c.deadline()
	if err := c.send(line); err != nil {
		return nil, err
	}
	for _, p := range payload {
		if _, err := c.w.WriteString(p + "\r\n"); err != nil {
			return nil, err
		}
	}
	if err := c.w.Flush(); err != nil {
		return nil, err
	}

	var data [][]string
	for {
		tokens, err := c.readTokens()
		if err != nil {
			return nil, err
		}
		if len(tokens) > 0 && isStatus(tokens[0]) {
			return c.result(name, tokens, data)
		}
		data = append(data, tokens)
	}
}

// send writes a command line. Literal payloads follow it, so it only
// flushes when the line carries no literal.
func (c *Client) send(line string) error {
	logger.Debug("ManageSieve: C:", "line", helpers.MaskSensitive(line))
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	if strings.HasSuffix(line, "+}") {
		return nil
	}
	return c.w.Flush()
}

func (c *Client) result(name string, tokens []string, data [][]string) ([][]string, error) {
	status := strings.ToUpper(tokens[0])
	if status == "OK" {
		return data, nil
	}
	re := &ResponseError{Command: name, Status: status}
	for _, t := range tokens[1:] {
		if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") && re.Code == "" {
			re.Code = strings.TrimSuffix(strings.TrimPrefix(t, "("), ")")
			continue
		}
		re.Text = strings.TrimSpace(t)
	}
	if status == "BYE" {
		c.Close()
	}
	return nil, re
}

func (c *Client) readCapabilities(name string) error {
	var caps Capabilities
	for {
		tokens, err := c.readTokens()
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			continue
		}
		if isStatus(tokens[0]) {
			if _, err := c.result(name, tokens, nil); err != nil {
				return err
			}
			c.caps = caps
			return nil
		}

		value := ""
		if len(tokens) > 1 {
			value = tokens[1]
		}
		switch strings.ToUpper(tokens[0]) {
		case "IMPLEMENTATION":
			caps.Implementation = value
		case "VERSION":
			caps.Version = value
		case "SIEVE":
			caps.Sieve = strings.Fields(value)
		case "SASL":
			caps.SASL = strings.Fields(value)
		case "STARTTLS":
			caps.StartTLS = true
		case "MAXREDIRECTS":
			caps.MaxRedirects, _ = strconv.Atoi(value)
		}
	}
}

func isStatus(token string) bool {
	switch strings.ToUpper(token) {
	case "OK", "NO", "BYE":
		return true
	}
	return false
}

// readTokens reads one response line, pulling in any literals it carries.
// Quoted strings and literals are returned unquoted, response codes with
// their parentheses.
func (c *Client) readTokens() ([]string, error) {
	var tokens []string
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) == 0 {
				return nil, fmt.Errorf("%w: connection closed", consts.ErrNotConnected)
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		toks, n, err := tokenize(line)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, toks...)
		if n < 0 {
			return tokens, nil
		}
		if n > maxLiteral {
			return nil, fmt.Errorf("%w: literal of %d bytes is too large", consts.ErrProtocol, n)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return nil, err
		}
		tokens = append(tokens, string(buf))
	}
}

// tokenize splits a line. If it ends in a literal marker, the literal's
// length is returned, otherwise -1.
func tokenize(line string) ([]string, int, error) {
	var tokens []string
	i := 0
	for i < len(line) {
		switch ch := line[i]; {
		case ch == ' ':
			i++
		case ch == '"':
			var b strings.Builder
			i++
			for ; i < len(line) && line[i] != '"'; i++ {
				if line[i] == '\\' && i+1 < len(line) {
					i++
				}
				b.WriteByte(line[i])
			}
			if i >= len(line) {
				return nil, 0, fmt.Errorf("%w: unterminated string in %q", consts.ErrProtocol, line)
			}
			i++
			tokens = append(tokens, b.String())
		case ch == '(':
			end := strings.IndexByte(line[i:], ')')
			if end < 0 {
				return nil, 0, fmt.Errorf("%w: unterminated response code in %q", consts.ErrProtocol, line)
			}
			tokens = append(tokens, line[i:i+end+1])
			i += end + 1
		case ch == '{':
			end := strings.IndexByte(line[i:], '}')
			if end < 0 || i+end+1 != len(line) {
				return nil, 0, fmt.Errorf("%w: bad literal in %q", consts.ErrProtocol, line)
			}
			n, err := strconv.Atoi(strings.TrimSuffix(line[i+1:i+end], "+"))
			if err != nil || n < 0 {
				return nil, 0, fmt.Errorf("%w: bad literal length in %q", consts.ErrProtocol, line)
			}
			return tokens, n, nil
		default:
			end := strings.IndexByte(line[i:], ' ')
			if end < 0 {
				end = len(line) - i
			}
			tokens = append(tokens, line[i:i+end])
			i += end
		}
	}
	return tokens, -1, nil
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func literal(s string) string {
	return "{" + strconv.Itoa(len(s)) + "+}"
}
