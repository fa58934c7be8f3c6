package magpie

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// BodyType is the negotiated body encoding for a transaction (RFC 6152).
type BodyType string

const (
	// BodyType7Bit is the RFC 5321 default: 7-bit ASCII only.
	BodyType7Bit BodyType = "7BIT"
	// BodyType8BitMIME permits 8-bit octets in the body (RFC 6152).
	BodyType8BitMIME BodyType = "8BITMIME"
)

// Envelope is the SMTP envelope built incrementally during a transaction:
// one reverse-path plus the recipients in the exact order their RCPT
// commands were accepted. The same address submitted twice is kept twice.
type Envelope struct {
	// From is the reverse-path from MAIL FROM. Null for bounce messages.
	From Path `json:"from"`

	// To is the forward-path list, in RCPT TO submission order.
	To []Path `json:"to"`

	// BodyType is the body encoding declared via BODY=. Defaults to 7BIT.
	BodyType BodyType `json:"body_type,omitempty"`

	// DeclaredSize is the SIZE= value from MAIL FROM, 0 if not declared.
	DeclaredSize int64 `json:"declared_size,omitempty"`

	// UTF8 is set when the client requested SMTPUTF8 (RFC 6531).
	UTF8 bool `json:"utf8,omitempty"`

	// AuthIdentity is the authenticated identity, empty if the session did
	// not authenticate.
	AuthIdentity string `json:"auth_identity,omitempty"`

	// Params carries the remaining MAIL FROM parameters verbatim, keyed by
	// uppercased keyword.
	Params map[string]string `json:"params,omitempty"`
}

// Message is the finalized unit handed to the Store: the envelope, the raw
// dot-unescaped body bytes, and the transfer metadata in effect when the
// body was received. The engine never touches a Message after Save returns.
type Message struct {
	// ID is a ULID assigned when the body transfer completes.
	ID string `json:"id"`

	Envelope Envelope `json:"envelope"`

	// Data is the message content exactly as received, CRLF line endings,
	// dot-stuffing removed. The engine does not parse it.
	Data []byte `json:"data"`

	// ReceivedAt is when the body transfer completed.
	ReceivedAt time.Time `json:"received_at"`

	// ClientHostname is the name the client gave in HELO/EHLO.
	ClientHostname string `json:"client_hostname,omitempty"`

	// RemoteAddr is the client's network address.
	RemoteAddr string `json:"remote_addr,omitempty"`

	// TLS reports whether the body was received over a secure channel.
	TLS bool `json:"tls,omitempty"`
}

// newMessageID mints a lexicographically sortable message ID.
func newMessageID() string {
	return ulid.Make().String()
}
