package magpie

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/corvuslabs/magpie/wire"
)

// SessionState is the protocol state of one SMTP session (RFC 5321
// Section 4.1.4).
type SessionState int

const (
	// StateConnect is the initial state, before any greeting.
	StateConnect SessionState = iota
	// StateGreeted means EHLO/HELO was accepted; ready for a transaction.
	StateGreeted
	// StateMail means MAIL FROM was accepted; a transaction is open.
	StateMail
	// StateRcpt means at least one recipient was accepted.
	StateRcpt
	// StateData means the session is receiving message content.
	StateData
	// StateQuit is terminal; the connection is closing.
	StateQuit
)

func (s SessionState) String() string {
	switch s {
	case StateConnect:
		return "CONNECT"
	case StateGreeted:
		return "GREETED"
	case StateMail:
		return "MAIL"
	case StateRcpt:
		return "RCPT"
	case StateData:
		return "DATA"
	case StateQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// Extension is an SMTP extension keyword advertised in the EHLO response.
type Extension string

const (
	Ext8BitMIME            Extension = "8BITMIME"
	ExtPipelining          Extension = "PIPELINING"
	ExtSMTPUTF8            Extension = "SMTPUTF8"
	ExtSTARTTLS            Extension = "STARTTLS"
	ExtSize                Extension = "SIZE"
	ExtAuth                Extension = "AUTH"
	ExtEnhancedStatusCodes Extension = "ENHANCEDSTATUSCODES"
)

// TLSInfo describes the secure channel, if one is active.
type TLSInfo struct {
	Enabled     bool
	Version     uint16
	CipherSuite uint16
	ServerName  string
}

// AuthInfo records a successful authentication. Once set it persists for
// the remaining lifetime of the session.
type AuthInfo struct {
	Authenticated   bool
	Mechanism       string
	Identity        string
	AuthenticatedAt time.Time
}

// Trace carries per-connection diagnostic information for logging.
type Trace struct {
	ID               string
	RemoteAddr       net.Addr
	LocalAddr        net.Addr
	ConnectedAt      time.Time
	ClientHostname   string
	ReverseDNS       string
	CommandCount     int64
	TransactionCount int64
	ErrorCount       int
}

// Connection wraps one accepted connection as a line-oriented CRLF
// request/response stream and holds the session state record. It is owned
// by exactly one session goroutine. mu guards the fields the supervisor
// inspects during shutdown broadcast; writeMu serializes reply writes,
// which the shutdown farewell issues from the supervisor goroutine.
type Connection struct {
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	reader *bufio.Reader

	writeMu sync.Mutex
	writer  *bufio.Writer

	readTimeout   time.Duration
	writeTimeout  time.Duration
	dataTimeout   time.Duration
	maxLineLength int

	mu    sync.RWMutex
	state SessionState

	Trace Trace
	TLS   TLSInfo
	Auth  AuthInfo

	// extensions advertised to this client in the last EHLO response.
	extensions map[Extension]string

	// envelope is the pending transaction, nil outside MAIL..DATA.
	envelope *Envelope

	closed bool
}

func newConnection(ctx context.Context, netConn net.Conn, cfg *ServerConfig) *Connection {
	connCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	c := &Connection{
		conn:          netConn,
		ctx:           connCtx,
		cancel:        cancel,
		reader:        bufio.NewReader(netConn),
		writer:        bufio.NewWriter(netConn),
		readTimeout:   cfg.ReadTimeout,
		writeTimeout:  cfg.WriteTimeout,
		dataTimeout:   cfg.DataTimeout,
		maxLineLength: cfg.MaxLineLength,
		state:         StateConnect,
		extensions:    make(map[Extension]string),
		Trace: Trace{
			RemoteAddr:  netConn.RemoteAddr(),
			LocalAddr:   netConn.LocalAddr(),
			ConnectedAt: now,
		},
	}

	if _, ok := netConn.(*tls.Conn); ok {
		// Implicit TLS listener. The handshake completes on first I/O;
		// the Enabled flag is what the policy checks look at.
		c.TLS.Enabled = true
	}

	return c
}

// Context returns the connection's cancellation context.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// State returns the current session state.
func (c *Connection) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(state SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// RemoteAddr returns the client address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsTLS reports whether the secure channel is active.
func (c *Connection) IsTLS() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TLS.Enabled
}

// IsAuthenticated reports whether the session has authenticated.
func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Auth.Authenticated
}

// Envelope returns the pending envelope, nil if no transaction is open.
func (c *Connection) Envelope() *Envelope {
	return c.envelope
}

// beginTransaction opens a fresh envelope, discarding any partial one.
func (c *Connection) beginTransaction(from Path) *Envelope {
	c.envelope = &Envelope{From: from, BodyType: BodyType7Bit}
	return c.envelope
}

// resetTransaction discards the pending envelope and returns the session to
// the greeted state (RSET, re-greeting, failed DATA).
func (c *Connection) resetTransaction() {
	c.envelope = nil
	c.mu.Lock()
	if c.state != StateConnect {
		c.state = StateGreeted
	}
	c.mu.Unlock()
}

// completeTransaction detaches and returns the finished envelope and
// resets for the next transaction.
func (c *Connection) completeTransaction() *Envelope {
	env := c.envelope
	c.envelope = nil
	c.mu.Lock()
	c.state = StateGreeted
	c.Trace.TransactionCount++
	c.mu.Unlock()
	return env
}

func (c *Connection) setClientHostname(hostname string) {
	c.mu.Lock()
	c.Trace.ClientHostname = hostname
	c.mu.Unlock()
}

func (c *Connection) setReverseDNS(name string) {
	c.mu.Lock()
	c.Trace.ReverseDNS = name
	c.mu.Unlock()
}

func (c *Connection) setExtension(ext Extension, params string) {
	c.extensions[ext] = params
}

func (c *Connection) hasExtension(ext Extension) bool {
	_, ok := c.extensions[ext]
	return ok
}

// clearExtensions voids the advertised set, for HELO sessions where no
// ESMTP parameters are permitted.
func (c *Connection) clearExtensions() {
	c.extensions = make(map[Extension]string)
}

func (c *Connection) recordError() {
	c.mu.Lock()
	c.Trace.ErrorCount++
	c.mu.Unlock()
}

func (c *Connection) errorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Trace.ErrorCount
}

func (c *Connection) countCommand() {
	c.mu.Lock()
	c.Trace.CommandCount++
	c.mu.Unlock()
}

// ReadLine blocks until one CRLF-terminated command line arrives, the read
// timeout expires, or the connection closes.
func (c *Connection) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return "", err
		}
	}
	return wire.ReadLine(c.reader, c.maxLineLength, false)
}

// ReadData streams the DATA body until the dot terminator, applying
// dot-unescaping and the size limit. The longer data timeout applies.
func (c *Connection) ReadData(maxSize int64, enforce7Bit bool) ([]byte, error) {
	if c.dataTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.dataTimeout)); err != nil {
			return nil, err
		}
	}
	return wire.ReadData(c.reader, maxSize, enforce7Bit)
}

// WriteResponse sends one reply line and flushes.
func (c *Connection) WriteResponse(resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.writer.WriteString(resp.String() + "\r\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

// WriteMultiline sends a multiline reply: hyphen continuation on every line
// but the last.
func (c *Connection) WriteMultiline(code SMTPCode, lines []string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if _, err := fmt.Fprintf(c.writer, "%d%s%s\r\n", int(code), sep, line); err != nil {
			return err
		}
	}
	return c.writer.Flush()
}

// UpgradeToTLS performs the STARTTLS handshake in place. On success all
// further reads and writes use the secure channel and the session state
// drops back to the start, per RFC 3207 Section 4.2; on failure the
// connection is unusable and the session must terminate.
func (c *Connection) UpgradeToTLS(config *tls.Config) error {
	// Clear deadlines for the handshake; it has its own pacing.
	_ = c.conn.SetDeadline(time.Time{})

	tlsConn := tls.Server(c.conn, config)
	if err := tlsConn.Handshake(); err != nil {
		return err
	}

	c.writeMu.Lock()
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	c.writeMu.Unlock()

	state := tlsConn.ConnectionState()
	c.mu.Lock()
	c.TLS = TLSInfo{
		Enabled:     true,
		Version:     state.Version,
		CipherSuite: state.CipherSuite,
		ServerName:  state.ServerName,
	}
	// The client must greet again; previously advertised extensions and
	// any pending transaction are void.
	c.state = StateConnect
	c.mu.Unlock()
	c.extensions = make(map[Extension]string)
	c.envelope = nil

	return nil
}

// writeFarewell makes a best-effort attempt to deliver a final reply under
// a short deadline, for shutdown broadcast. It runs on the supervisor
// goroutine, so it takes the write lock to stay clear of an in-flight
// session reply. Errors are ignored: the channel may already be unusable.
func (c *Connection) writeFarewell(resp Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = c.writer.WriteString(resp.String() + "\r\n")
	_ = c.writer.Flush()
}

// Close terminates the connection, flushing any buffered reply.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.writeMu.Lock()
	_ = c.writer.Flush()
	c.writeMu.Unlock()
	return c.conn.Close()
}
