package sasl

import "strings"

// plainMechanism implements PLAIN (RFC 4616): a single response of
// "authzid NUL authcid NUL password".
type plainMechanism struct {
	challenged bool
	creds      *Credentials
}

func (m *plainMechanism) Name() string { return "PLAIN" }

func (m *plainMechanism) Step(response string) (string, bool, error) {
	if response == "" {
		if m.challenged {
			return "", false, ErrInvalidFormat
		}
		// No initial response; issue an empty challenge.
		m.challenged = true
		return "", false, nil
	}

	raw, err := decode(response)
	if err != nil {
		return "", false, err
	}

	parts := strings.Split(raw, "\x00")
	if len(parts) != 3 {
		return "", false, ErrInvalidFormat
	}
	if parts[1] == "" {
		return "", false, ErrInvalidFormat
	}

	m.creds = &Credentials{
		AuthorizationID:  parts[0],
		AuthenticationID: parts[1],
		Password:         parts[2],
	}
	return "", true, nil
}

func (m *plainMechanism) Credentials() *Credentials { return m.creds }
