package sasl

// loginMechanism implements the legacy LOGIN mechanism: two prompts, one
// for the username and one for the password, each base64-encoded.
type loginMechanism struct {
	stage    int
	username string
	creds    *Credentials
}

// Base64 of "Username:" and "Password:".
const (
	loginUserChallenge = "VXNlcm5hbWU6"
	loginPassChallenge = "UGFzc3dvcmQ6"
)

func (m *loginMechanism) Name() string { return "LOGIN" }

func (m *loginMechanism) Step(response string) (string, bool, error) {
	switch m.stage {
	case 0:
		m.stage = 1
		if response == "" {
			return loginUserChallenge, false, nil
		}
		// Initial response carries the username.
		username, err := decode(response)
		if err != nil {
			return "", false, err
		}
		if username == "" {
			return "", false, ErrInvalidFormat
		}
		m.username = username
		m.stage = 2
		return loginPassChallenge, false, nil

	case 1:
		username, err := decode(response)
		if err != nil {
			return "", false, err
		}
		if username == "" {
			return "", false, ErrInvalidFormat
		}
		m.username = username
		m.stage = 2
		return loginPassChallenge, false, nil

	case 2:
		password, err := decode(response)
		if err != nil {
			return "", false, err
		}
		m.creds = &Credentials{
			AuthenticationID: m.username,
			Password:         password,
		}
		m.stage = 3
		return "", true, nil

	default:
		return "", false, ErrInvalidFormat
	}
}

func (m *loginMechanism) Credentials() *Credentials { return m.creds }
