package magpie

import (
	"context"
	"fmt"
)

// Store persists completed messages. Save is called exactly once per
// successful DATA transfer, and must be safe for concurrent use by multiple
// sessions. Returning a *DeliveryError controls the reply kind; any other
// error is treated as a transient local failure. The Message is owned by the
// call: implementations must copy anything they keep past returning.
type Store interface {
	Save(ctx context.Context, msg *Message) error
}

// Authenticator validates credentials collected by the AUTH negotiator.
// A nil return accepts the credentials; any error rejects them with 535.
// Must be safe for concurrent use. The engine hands the password to this
// single call and never logs or retains it.
type Authenticator interface {
	Authenticate(ctx context.Context, mechanism, identity, password string) error
}

// RecipientFilter is consulted once per RCPT command when configured.
// Returning false rejects that recipient only; the transaction and any
// previously accepted recipients are unaffected. Must be safe for
// concurrent use.
type RecipientFilter interface {
	Accepts(ctx context.Context, rcpt MailboxAddress) bool
}

// DeliveryError reports a Store failure. Temporary failures tell the client
// to retry (451); permanent ones not to (554).
type DeliveryError struct {
	Temporary bool
	Message   string
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Temporary {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("delivery failed (%s): %s: %v", kind, e.Message, e.Err)
	}
	return fmt.Sprintf("delivery failed (%s): %s", kind, e.Message)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// TemporaryFailure wraps err as a transient DeliveryError.
func TemporaryFailure(message string, err error) *DeliveryError {
	return &DeliveryError{Temporary: true, Message: message, Err: err}
}

// PermanentFailure wraps err as a permanent DeliveryError.
func PermanentFailure(message string, err error) *DeliveryError {
	return &DeliveryError{Temporary: false, Message: message, Err: err}
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, mechanism, identity, password string) error

func (f AuthenticatorFunc) Authenticate(ctx context.Context, mechanism, identity, password string) error {
	return f(ctx, mechanism, identity, password)
}

// RecipientFilterFunc adapts a function to the RecipientFilter interface.
type RecipientFilterFunc func(ctx context.Context, rcpt MailboxAddress) bool

func (f RecipientFilterFunc) Accepts(ctx context.Context, rcpt MailboxAddress) bool {
	return f(ctx, rcpt)
}
