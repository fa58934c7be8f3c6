package magpie

import (
	"errors"
	"strings"
)

// MailboxAddress is a parsed email address per RFC 5321 Section 4.1.2.
// The octets are kept exactly as received; the local part may contain UTF-8
// when the client requested SMTPUTF8.
type MailboxAddress struct {
	// LocalPart is the portion before the @ sign.
	LocalPart string `json:"local_part"`

	// Domain is the portion after the @ sign.
	Domain string `json:"domain"`
}

// String returns the address in "local-part@domain" form.
func (m MailboxAddress) String() string {
	if m.IsZero() {
		return ""
	}
	return m.LocalPart + "@" + m.Domain
}

// IsZero reports whether the address is empty.
func (m MailboxAddress) IsZero() bool {
	return m.LocalPart == "" && m.Domain == ""
}

// Equal compares two addresses: the local part octet for octet, the domain
// case-insensitively (ASCII fold, per RFC 5321 Section 2.4).
func (m MailboxAddress) Equal(o MailboxAddress) bool {
	return m.LocalPart == o.LocalPart && strings.EqualFold(m.Domain, o.Domain)
}

var (
	errNoAtSign     = errors.New("address must contain @")
	errEmptyLocal   = errors.New("empty local part")
	errEmptyDomain  = errors.New("empty domain")
	errBadLocalChar = errors.New("invalid character in local part")
	errBadDomain    = errors.New("invalid domain")
)

// ParseAddress parses a bare "local-part@domain" address as used inside the
// angle brackets of MAIL FROM and RCPT TO. Display names and source routes
// are not accepted here.
func ParseAddress(addr string) (MailboxAddress, error) {
	// The local part may contain '@' inside a quoted string; split on the
	// last one.
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return MailboxAddress{}, errNoAtSign
	}
	local, domain := addr[:at], addr[at+1:]

	if local == "" {
		return MailboxAddress{}, errEmptyLocal
	}
	if domain == "" {
		return MailboxAddress{}, errEmptyDomain
	}
	if err := validateLocalPart(local); err != nil {
		return MailboxAddress{}, err
	}
	if err := validateDomain(domain); err != nil {
		return MailboxAddress{}, err
	}

	return MailboxAddress{LocalPart: local, Domain: domain}, nil
}

// validateLocalPart accepts dot-strings and quoted strings. Non-ASCII octets
// pass through; whether they are acceptable is decided later by the SMTPUTF8
// negotiation, not by the parser.
func validateLocalPart(local string) error {
	if local[0] == '"' {
		if len(local) < 2 || local[len(local)-1] != '"' {
			return errBadLocalChar
		}
		for i := 1; i < len(local)-1; i++ {
			if local[i] < 0x20 || local[i] == 0x7F {
				return errBadLocalChar
			}
		}
		return nil
	}
	if local[0] == '.' || local[len(local)-1] == '.' || strings.Contains(local, "..") {
		return errBadLocalChar
	}
	for i := 0; i < len(local); i++ {
		c := local[i]
		if c >= 0x80 {
			continue
		}
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-/=?^_`{|}~.", c) >= 0:
		default:
			return errBadLocalChar
		}
	}
	return nil
}

// validateDomain accepts dotted labels, allowing UTF-8 labels (U-labels) for
// internationalized domains. Address literals ("[1.2.3.4]") are accepted as
// an opaque token.
func validateDomain(domain string) error {
	if domain[0] == '[' {
		if domain[len(domain)-1] != ']' || len(domain) < 3 {
			return errBadDomain
		}
		return nil
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return errBadDomain
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return errBadDomain
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if c >= 0x80 {
				continue
			}
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return errBadDomain
			}
		}
	}
	return nil
}

// containsNonASCII reports whether s has any octet outside US-ASCII.
func containsNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return true
		}
	}
	return false
}

// Path is an SMTP reverse-path or forward-path. A zero Path is the null
// reverse-path ("<>") used by bounce messages.
type Path struct {
	Mailbox MailboxAddress `json:"mailbox"`
}

// IsNull reports whether this is the null reverse-path.
func (p Path) IsNull() bool {
	return p.Mailbox.IsZero()
}

// String returns the path in the angle bracket form used on the wire.
func (p Path) String() string {
	if p.IsNull() {
		return "<>"
	}
	return "<" + p.Mailbox.String() + ">"
}
