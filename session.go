package magpie

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/corvuslabs/magpie/wire"
)

// session drives the transaction state machine for one connection. All of
// its methods run on the single goroutine that owns the connection; command
// effects are applied strictly in arrival order.
type session struct {
	server *Server
	conn   *Connection
	logger *slog.Logger
}

func (s *session) config() *ServerConfig {
	return &s.server.config
}

// run sends the greeting and processes commands until the session reaches
// its terminal state or the transport fails.
func (s *session) run() {
	cfg := s.config()

	err := s.conn.WriteResponse(Response{
		Code:    CodeServiceReady,
		Message: fmt.Sprintf("%s ESMTP ready [%s]", cfg.Hostname, s.conn.Trace.ID),
	})
	if err != nil {
		return
	}

	for {
		select {
		case <-s.conn.Context().Done():
			return
		default:
		}

		line, err := s.conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				_ = s.conn.WriteResponse(Response{
					Code:    CodeServiceUnavailable,
					Message: "Timeout waiting for command",
				})
				return
			}
			if errors.Is(err, wire.ErrLineTooLong) {
				_ = s.conn.WriteResponse(ResponseSyntaxError("Line too long"))
				s.conn.recordError()
				continue
			}
			if errors.Is(err, wire.ErrBadLineEnding) {
				_ = s.conn.WriteResponse(ResponseSyntaxError("Line must be terminated with CRLF"))
				s.conn.recordError()
				continue
			}
			s.logger.Error("read error", slog.Any("error", err))
			return
		}

		s.conn.countCommand()

		if cfg.MaxCommands > 0 && s.conn.Trace.CommandCount > cfg.MaxCommands {
			_ = s.conn.WriteResponse(Response{Code: CodeServiceUnavailable, Message: "Too many commands"})
			return
		}
		if cfg.MaxErrors > 0 && s.conn.errorCount() >= cfg.MaxErrors {
			_ = s.conn.WriteResponse(Response{Code: CodeServiceUnavailable, Message: "Too many errors"})
			return
		}

		cmd, args := parseCommand(line)
		s.logger.Debug("command received", slog.String("cmd", string(cmd)), slog.String("args", args))

		if resp := s.handleCommand(cmd, args); resp != nil {
			if resp.IsError() {
				s.conn.recordError()
			}
			if err := s.conn.WriteResponse(*resp); err != nil {
				return
			}
		}

		if s.conn.State() == StateQuit {
			return
		}
	}
}

func (s *session) handleCommand(cmd Command, args string) *Response {
	switch cmd {
	case CmdHelo:
		return s.handleHelo(args)
	case CmdEhlo:
		return s.handleEhlo(args)
	case CmdMail:
		return s.handleMail(args)
	case CmdRcpt:
		return s.handleRcpt(args)
	case CmdData:
		return s.handleData()
	case CmdRset:
		return s.handleRset()
	case CmdVrfy:
		return s.handleVrfy(args)
	case CmdNoop:
		return &Response{Code: CodeOK, Message: "OK"}
	case CmdQuit:
		return s.handleQuit()
	case CmdStartTLS:
		return s.handleStartTLS()
	case CmdAuth:
		return s.handleAuth(args)
	default:
		resp := Response{Code: CodeCommandUnrecognized, EnhancedCode: string(ESCInvalidCommand), Message: "Command not recognized"}
		return &resp
	}
}

func (s *session) handleHelo(hostname string) *Response {
	if hostname == "" {
		resp := ResponseSyntaxError("Hostname required")
		return &resp
	}

	s.conn.setClientHostname(hostname)
	s.conn.setState(StateGreeted)
	s.conn.resetTransaction()
	s.conn.clearExtensions()

	resp := Response{
		Code:    CodeOK,
		Message: fmt.Sprintf("%s Hello %s [%s]", s.config().Hostname, hostname, s.conn.Trace.ID),
	}
	return &resp
}

func (s *session) handleEhlo(hostname string) *Response {
	if hostname == "" {
		resp := ResponseSyntaxError("Hostname required")
		return &resp
	}

	s.conn.setClientHostname(hostname)
	s.conn.setState(StateGreeted)
	s.conn.resetTransaction()

	lines := make([]string, 0, 8)
	lines = append(lines, fmt.Sprintf("%s Hello %s [%s]", s.config().Hostname, hostname, s.conn.Trace.ID))
	lines = append(lines, s.buildExtensions()...)

	_ = s.conn.WriteMultiline(CodeOK, lines)
	return nil
}

// buildExtensions assembles the advertisement lines for EHLO and records
// the active extension set on the connection.
func (s *session) buildExtensions() []string {
	cfg := s.config()
	var lines []string

	add := func(ext Extension, params string) {
		s.conn.setExtension(ext, params)
		if params != "" {
			lines = append(lines, string(ext)+" "+params)
		} else {
			lines = append(lines, string(ext))
		}
	}

	add(ExtEnhancedStatusCodes, "")
	add(ExtPipelining, "")
	add(Ext8BitMIME, "")
	add(ExtSMTPUTF8, "")

	if cfg.MaxMessageSize > 0 {
		add(ExtSize, strconv.FormatInt(cfg.MaxMessageSize, 10))
	}
	if cfg.TLSConfig != nil && !s.conn.IsTLS() {
		add(ExtSTARTTLS, "")
	}
	// AUTH is only advertised when credential exchange would actually be
	// permitted on this channel.
	if cfg.Authenticator != nil && (s.conn.IsTLS() || cfg.AllowInsecureAuth) {
		add(ExtAuth, strings.Join(cfg.AuthMechanisms, " "))
	}

	return lines
}

func (s *session) handleMail(args string) *Response {
	cfg := s.config()

	state := s.conn.State()
	if state < StateGreeted {
		resp := ResponseBadSequence("Send EHLO/HELO first")
		return &resp
	}
	if state >= StateMail {
		resp := ResponseBadSequence("MAIL command already given")
		return &resp
	}

	if cfg.RequireTLS && !s.conn.IsTLS() {
		resp := ResponseAuthRequired("Must issue a STARTTLS command first")
		return &resp
	}
	if cfg.RequireAuth && !s.conn.IsAuthenticated() {
		resp := ResponseAuthRequired("Authentication required")
		return &resp
	}

	rest, ok := cutPrefixFold(strings.TrimSpace(args), "FROM:")
	if !ok {
		resp := ResponseSyntaxError("Syntax: MAIL FROM:<address>")
		return &resp
	}

	from, params, err := parsePathWithParams(strings.TrimSpace(rest))
	if err != nil {
		resp := ResponseSyntaxError(err.Error())
		return &resp
	}

	utf8Requested := false
	if _, ok := params["SMTPUTF8"]; ok {
		// Parameters are only valid when the matching extension was
		// advertised, which requires EHLO rather than HELO.
		if !s.conn.hasExtension(ExtSMTPUTF8) {
			return &Response{
				Code:         CodeParameterNotImpl,
				EnhancedCode: string(ESCInvalidArgs),
				Message:      "SMTPUTF8 not offered",
			}
		}
		utf8Requested = true
	}
	if !from.IsNull() && !utf8Requested &&
		(containsNonASCII(from.Mailbox.LocalPart) || containsNonASCII(from.Mailbox.Domain)) {
		return &Response{
			Code:         CodeMailboxNameInvalid,
			EnhancedCode: string(ESCNonASCIINoSMTPUTF8),
			Message:      "Non-ASCII address requires the SMTPUTF8 parameter",
		}
	}

	var declaredSize int64
	if sizeStr, ok := params["SIZE"]; ok {
		declaredSize, err = strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || declaredSize < 0 {
			resp := ResponseSyntaxError("Invalid SIZE parameter")
			return &resp
		}
		if cfg.MaxMessageSize > 0 && declaredSize > cfg.MaxMessageSize {
			resp := ResponseExceededStorage("Message too large")
			return &resp
		}
	}

	bodyType := BodyType7Bit
	if body, ok := params["BODY"]; ok {
		if !s.conn.hasExtension(Ext8BitMIME) {
			return &Response{
				Code:         CodeParameterNotImpl,
				EnhancedCode: string(ESCInvalidArgs),
				Message:      "BODY not offered",
			}
		}
		switch BodyType(strings.ToUpper(body)) {
		case BodyType7Bit:
		case BodyType8BitMIME:
			bodyType = BodyType8BitMIME
		default:
			return &Response{
				Code:         CodeParameterNotImpl,
				EnhancedCode: string(ESCInvalidArgs),
				Message:      "Invalid BODY parameter",
			}
		}
	}

	env := s.conn.beginTransaction(from)
	env.BodyType = bodyType
	env.DeclaredSize = declaredSize
	env.UTF8 = utf8Requested
	env.Params = params
	if s.conn.IsAuthenticated() {
		env.AuthIdentity = s.conn.Auth.Identity
	}

	s.conn.setState(StateMail)

	return &Response{Code: CodeOK, EnhancedCode: string(ESCAddressValid), Message: "OK"}
}

func (s *session) handleRcpt(args string) *Response {
	cfg := s.config()

	if s.conn.State() < StateMail {
		resp := ResponseBadSequence("Send MAIL first")
		return &resp
	}
	env := s.conn.Envelope()
	if env == nil {
		resp := ResponseBadSequence("No mail transaction")
		return &resp
	}

	// Transient: the client may retry with fewer recipients.
	if cfg.MaxRecipients > 0 && len(env.To) >= cfg.MaxRecipients {
		return &Response{
			Code:         CodeInsufficientStorage,
			EnhancedCode: string(ESCTempTooManyRecipients),
			Message:      "Too many recipients",
		}
	}

	rest, ok := cutPrefixFold(strings.TrimSpace(args), "TO:")
	if !ok {
		resp := ResponseSyntaxError("Syntax: RCPT TO:<address>")
		return &resp
	}

	to, _, err := parsePathWithParams(strings.TrimSpace(rest))
	if err != nil {
		resp := ResponseSyntaxError(err.Error())
		return &resp
	}
	if to.IsNull() {
		resp := ResponseSyntaxError("Recipient address required")
		return &resp
	}

	if !env.UTF8 && (containsNonASCII(to.Mailbox.LocalPart) || containsNonASCII(to.Mailbox.Domain)) {
		return &Response{
			Code:         CodeMailboxNameInvalid,
			EnhancedCode: string(ESCNonASCIINoSMTPUTF8),
			Message:      "Non-ASCII address requires SMTPUTF8",
		}
	}

	if cfg.RecipientFilter != nil {
		accepted, failed := s.filterRecipient(to.Mailbox)
		if failed {
			resp := ResponseLocalError("Recipient verification unavailable")
			return &resp
		}
		if !accepted {
			resp := ResponseMailboxNotFound("Recipient rejected")
			return &resp
		}
	}

	// Duplicates are appended, not collapsed; the store sees recipients
	// exactly as submitted.
	env.To = append(env.To, to)
	s.conn.setState(StateRcpt)

	return &Response{Code: CodeOK, EnhancedCode: string(ESCRecipientValid), Message: "OK"}
}

// filterRecipient consults the RecipientFilter port, containing any fault
// so it cannot take the session down.
func (s *session) filterRecipient(rcpt MailboxAddress) (accepted, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recipient filter panic", slog.Any("panic", r))
			failed = true
		}
	}()
	return s.config().RecipientFilter.Accepts(s.conn.Context(), rcpt), false
}

func (s *session) handleData() *Response {
	cfg := s.config()

	if s.conn.State() < StateRcpt {
		resp := ResponseBadSequence("Send RCPT first")
		return &resp
	}
	env := s.conn.Envelope()
	if env == nil || len(env.To) == 0 {
		resp := ResponseBadSequence("No recipients")
		return &resp
	}

	s.conn.setState(StateData)
	if err := s.conn.WriteResponse(Response{
		Code:    CodeStartMailInput,
		Message: "Start mail input; end with <CRLF>.<CRLF>",
	}); err != nil {
		return nil
	}

	enforce7Bit := env.BodyType != BodyType8BitMIME
	data, err := s.conn.ReadData(cfg.MaxMessageSize, enforce7Bit)
	if err != nil {
		s.conn.resetTransaction()
		switch {
		case errors.Is(err, wire.ErrDataTooLarge):
			resp := ResponseExceededStorage("Message too large")
			return &resp
		case errors.Is(err, wire.Err8BitData):
			resp := ResponseTransactionFailed("Message contains 8-bit data but BODY=8BITMIME was not specified", ESCContentError)
			return &resp
		case errors.Is(err, wire.ErrBadLineEnding):
			return &Response{
				Code:         CodeSyntaxError,
				EnhancedCode: string(ESCContentError),
				Message:      "Message must use CRLF line endings",
			}
		case errors.Is(err, wire.ErrLineTooLong):
			return &Response{
				Code:         CodeSyntaxError,
				EnhancedCode: string(ESCContentError),
				Message:      "Line length exceeds maximum allowed",
			}
		default:
			s.logger.Error("data read error", slog.Any("error", err))
			resp := ResponseLocalError("Error reading message")
			return &resp
		}
	}

	// Shutdown observed mid-transfer: abort without a delivery attempt.
	if s.conn.Context().Err() != nil {
		s.conn.resetTransaction()
		return &Response{Code: CodeServiceUnavailable, Message: "Service shutting down"}
	}

	// The envelope is cleared here regardless of how delivery goes: one
	// save attempt per DATA, never a retry on the same transaction.
	env = s.conn.completeTransaction()

	msg := &Message{
		ID:             newMessageID(),
		Envelope:       *env,
		Data:           data,
		ReceivedAt:     time.Now(),
		ClientHostname: s.conn.Trace.ClientHostname,
		RemoteAddr:     s.conn.RemoteAddr().String(),
		TLS:            s.conn.IsTLS(),
	}

	resp := s.deliver(msg)
	return &resp
}

// deliver invokes the Store port exactly once, translating its outcome to
// the client reply. A panic inside the port is contained and reported as a
// transient failure.
func (s *session) deliver(msg *Message) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store panic", slog.String("mail_id", msg.ID), slog.Any("panic", r))
			metricDeliveryFailureInc("panic")
			resp = ResponseLocalError("Temporary delivery failure")
		}
	}()

	err := s.config().Store.Save(s.conn.Context(), msg)
	if err == nil {
		metricMessagesInc()
		s.logger.Info("message received",
			slog.String("mail_id", msg.ID),
			slog.String("from", msg.Envelope.From.String()),
			slog.Int("recipients", len(msg.Envelope.To)),
			slog.Int("size", len(msg.Data)),
		)
		return Response{
			Code:         CodeOK,
			EnhancedCode: string(ESCMessageAccepted),
			Message:      fmt.Sprintf("OK, queued as %s", msg.ID),
		}
	}

	var derr *DeliveryError
	if errors.As(err, &derr) && !derr.Temporary {
		metricDeliveryFailureInc("permanent")
		s.logger.Warn("delivery rejected", slog.String("mail_id", msg.ID), slog.Any("error", err))
		message := derr.Message
		if message == "" {
			message = "Delivery failed"
		}
		return ResponseTransactionFailed(message, ESCPermFailure)
	}

	metricDeliveryFailureInc("temporary")
	s.logger.Warn("delivery failed", slog.String("mail_id", msg.ID), slog.Any("error", err))
	message := "Temporary delivery failure"
	if derr != nil && derr.Message != "" {
		message = derr.Message
	}
	return ResponseLocalError(message)
}

func (s *session) handleRset() *Response {
	s.conn.resetTransaction()
	resp := ResponseOK("OK", ESCSuccess)
	return &resp
}

func (s *session) handleVrfy(args string) *Response {
	args = strings.TrimSpace(args)
	if args == "" {
		resp := ResponseSyntaxError("Syntax: VRFY <address>")
		return &resp
	}

	addrStr := strings.TrimSuffix(strings.TrimPrefix(args, "<"), ">")
	addr, err := ParseAddress(addrStr)
	if err != nil {
		resp := ResponseSyntaxError("Invalid address")
		return &resp
	}

	if s.config().RecipientFilter != nil {
		accepted, failed := s.filterRecipient(addr)
		if failed {
			resp := ResponseLocalError("Verification unavailable")
			return &resp
		}
		if !accepted {
			resp := ResponseMailboxNotFound("")
			return &resp
		}
		resp := ResponseOK(addr.String(), "")
		return &resp
	}

	// Verification disabled: 252 rather than 550, so the answer does not
	// leak mailbox existence.
	return &Response{
		Code:    CodeCannotVRFY,
		Message: "Cannot VRFY user, but will accept message and attempt delivery",
	}
}

func (s *session) handleQuit() *Response {
	s.conn.setState(StateQuit)
	resp := ResponseServiceClosing(s.config().Hostname, "Service closing transmission channel")
	return &resp
}

func (s *session) handleStartTLS() *Response {
	cfg := s.config()

	if s.conn.State() < StateGreeted {
		resp := ResponseBadSequence("Send EHLO first")
		return &resp
	}
	if cfg.TLSConfig == nil {
		return &Response{Code: CodeCommandNotImplemented, Message: "STARTTLS not available"}
	}
	if s.conn.IsTLS() {
		resp := ResponseBadSequence("TLS already active")
		return &resp
	}

	if err := s.conn.WriteResponse(Response{Code: CodeServiceReady, Message: "Ready to start TLS"}); err != nil {
		return nil
	}

	if err := s.conn.UpgradeToTLS(cfg.TLSConfig); err != nil {
		// The channel is unusable after a failed handshake; no reply can
		// be delivered.
		s.logger.Warn("TLS handshake failed", slog.Any("error", err))
		s.conn.setState(StateQuit)
		return nil
	}

	s.logger.Debug("TLS established")
	return nil
}
