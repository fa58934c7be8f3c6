package magpie

import (
	"errors"
	"fmt"
	"strings"
)

// Command is a canonicalized SMTP verb.
type Command string

const (
	CmdHelo     Command = "HELO"
	CmdEhlo     Command = "EHLO"
	CmdMail     Command = "MAIL"
	CmdRcpt     Command = "RCPT"
	CmdData     Command = "DATA"
	CmdRset     Command = "RSET"
	CmdVrfy     Command = "VRFY"
	CmdNoop     Command = "NOOP"
	CmdQuit     Command = "QUIT"
	CmdStartTLS Command = "STARTTLS"
	CmdAuth     Command = "AUTH"

	// CmdUnknown marks an unrecognized verb. The session replies 500 and
	// keeps its state; it is not an error condition.
	CmdUnknown Command = "UNKNOWN"
)

// parseCommand splits one command line into a canonical verb and its raw
// argument string. The verb is matched case-insensitively; arguments are
// passed through untouched apart from surrounding whitespace.
func parseCommand(line string) (Command, string) {
	verb, rest, found := strings.Cut(line, " ")
	cmd := canonicalizeVerb(verb)
	if !found {
		return cmd, ""
	}
	return cmd, strings.TrimSpace(rest)
}

func canonicalizeVerb(verb string) Command {
	switch len(verb) {
	case 4:
		for _, c := range [...]Command{CmdHelo, CmdEhlo, CmdMail, CmdRcpt, CmdData, CmdRset, CmdVrfy, CmdNoop, CmdQuit, CmdAuth} {
			if strings.EqualFold(verb, string(c)) {
				return c
			}
		}
	case 8:
		if strings.EqualFold(verb, string(CmdStartTLS)) {
			return CmdStartTLS
		}
	}
	return CmdUnknown
}

// cutPrefixFold strips an ASCII case-insensitive prefix, reporting whether it
// was present.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// parsePathWithParams parses the argument of MAIL FROM / RCPT TO: an
// angle-bracketed path followed by optional ESMTP parameters. Parameter
// keywords are uppercased; duplicates are rejected.
func parsePathWithParams(s string) (Path, map[string]string, error) {
	start := strings.IndexByte(s, '<')
	end := strings.IndexByte(s, '>')
	if start == -1 || end == -1 || end < start {
		return Path{}, nil, errors.New("missing angle brackets")
	}

	address := s[start+1 : end]
	paramStr := strings.TrimSpace(s[end+1:])

	var path Path
	if address != "" {
		// Strip the deprecated source route prefix ("@a,@b:user@d") if a
		// client still sends one; RFC 5321 Section 4.1.1.3 requires
		// accepting and ignoring it.
		if address[0] == '@' {
			if colon := strings.IndexByte(address, ':'); colon >= 0 {
				address = address[colon+1:]
			}
		}
		addr, err := ParseAddress(address)
		if err != nil {
			return Path{}, nil, fmt.Errorf("invalid address: %w", err)
		}
		path = Path{Mailbox: addr}
	}

	var params map[string]string
	if paramStr != "" {
		params = make(map[string]string)
		for _, param := range strings.Fields(paramStr) {
			key, value, _ := strings.Cut(param, "=")
			key = strings.ToUpper(key)
			if _, exists := params[key]; exists {
				return Path{}, nil, fmt.Errorf("duplicate parameter: %s", key)
			}
			params[key] = value
		}
	}

	return path, params, nil
}
