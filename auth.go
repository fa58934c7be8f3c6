package magpie

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/corvuslabs/magpie/sasl"
	"github.com/corvuslabs/magpie/wire"
)

// handleAuth negotiates SMTP authentication (RFC 4954). Outcomes: accepted
// (235, the session stays authenticated for its lifetime), rejected (535,
// the client may retry), or aborted by the client sending "*" (501, state
// unchanged). Credential material exists only for the single Authenticator
// call and is never logged.
func (s *session) handleAuth(args string) *Response {
	cfg := s.config()

	if cfg.Authenticator == nil {
		return &Response{Code: CodeCommandNotImplemented, Message: "AUTH not available"}
	}
	if s.conn.State() < StateGreeted {
		resp := ResponseBadSequence("Send EHLO first")
		return &resp
	}
	if s.conn.State() >= StateMail {
		resp := ResponseBadSequence("AUTH not permitted during a mail transaction")
		return &resp
	}
	if s.conn.IsAuthenticated() {
		resp := ResponseBadSequence("Already authenticated")
		return &resp
	}
	if !s.conn.IsTLS() && !cfg.AllowInsecureAuth {
		metricAuthInc("", "refused")
		resp := ResponseAuthRequired("Must issue a STARTTLS command first")
		return &resp
	}

	mechanismName, initial, _ := strings.Cut(args, " ")
	mechanismName = strings.ToUpper(strings.TrimSpace(mechanismName))
	if mechanismName == "" {
		resp := ResponseSyntaxError("Syntax: AUTH <mechanism> [initial-response]")
		return &resp
	}

	if !slices.Contains(cfg.AuthMechanisms, mechanismName) {
		return &Response{
			Code:         CodeParameterNotImpl,
			EnhancedCode: string(ESCInvalidArgs),
			Message:      "Mechanism not supported",
		}
	}
	mechanism, ok := sasl.New(mechanismName)
	if !ok {
		return &Response{
			Code:         CodeParameterNotImpl,
			EnhancedCode: string(ESCInvalidArgs),
			Message:      "Mechanism not implemented",
		}
	}

	// "=" is the RFC 4954 token for an explicit zero-length initial
	// response; the mechanism sees it as no initial response.
	initial = strings.TrimSpace(initial)
	if initial == "=" {
		initial = ""
	}

	creds, aborted, err := s.runExchange(mechanism, initial)
	if aborted {
		metricAuthInc(mechanismName, "aborted")
		resp := ResponseSyntaxError("Authentication aborted")
		return &resp
	}
	if errors.Is(err, sasl.ErrInvalidBase64) || errors.Is(err, sasl.ErrInvalidFormat) ||
		errors.Is(err, wire.ErrLineTooLong) || errors.Is(err, wire.ErrBadLineEnding) {
		// The line reader drained and resynchronized, so the session can
		// still be answered.
		metricAuthInc(mechanismName, "malformed")
		resp := ResponseSyntaxError("Malformed authentication response")
		return &resp
	}
	if err != nil {
		// Transport failure mid-exchange; no reply can be delivered.
		return nil
	}

	if err := s.authenticate(mechanismName, creds); err != nil {
		metricAuthInc(mechanismName, "badcreds")
		s.logger.Warn("authentication failed",
			slog.String("mechanism", mechanismName),
			slog.String("identity", creds.Identity()),
		)
		return &Response{
			Code:         CodeAuthCredentialsInvalid,
			EnhancedCode: string(ESCAuthCredentialsInvalid),
			Message:      "Authentication credentials invalid",
		}
	}

	s.conn.mu.Lock()
	s.conn.Auth = AuthInfo{
		Authenticated:   true,
		Mechanism:       mechanismName,
		Identity:        creds.Identity(),
		AuthenticatedAt: time.Now(),
	}
	s.conn.mu.Unlock()

	metricAuthInc(mechanismName, "ok")
	s.logger.Info("authenticated",
		slog.String("mechanism", mechanismName),
		slog.String("identity", creds.Identity()),
	)

	return &Response{
		Code:         CodeAuthSuccess,
		EnhancedCode: string(ESCSecuritySuccess),
		Message:      "Authentication successful",
	}
}

// runExchange drives the challenge/response loop with the client. Each
// challenge goes out as a 334 reply; the client answers with one
// base64-encoded line, or "*" to abort the exchange.
func (s *session) runExchange(mechanism sasl.Mechanism, initial string) (creds *sasl.Credentials, aborted bool, err error) {
	challenge, done, err := mechanism.Step(initial)
	if err != nil {
		return nil, false, err
	}

	for !done {
		if werr := s.conn.WriteResponse(Response{Code: CodeAuthContinue, Message: challenge}); werr != nil {
			return nil, false, werr
		}

		response, rerr := s.conn.ReadLine()
		if rerr != nil {
			return nil, false, rerr
		}
		if response == "*" {
			return nil, true, nil
		}

		challenge, done, err = mechanism.Step(response)
		if err != nil {
			return nil, false, err
		}
	}

	return mechanism.Credentials(), false, nil
}

// authenticate calls the Authenticator port, containing any fault so it
// cannot take the session down. The password does not outlive this call.
func (s *session) authenticate(mechanism string, creds *sasl.Credentials) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("authenticator panic", slog.Any("panic", r))
			err = ErrAuthRequired
		}
	}()
	return s.config().Authenticator.Authenticate(s.conn.Context(), mechanism, creds.Identity(), creds.Password)
}
