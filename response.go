package magpie

import "fmt"

// SMTPCode is a numeric SMTP reply code (RFC 5321).
// 2yz success, 3yz intermediate, 4yz transient failure, 5yz permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeServiceReady   SMTPCode = 220
	CodeServiceClosing SMTPCode = 221
	CodeAuthSuccess    SMTPCode = 235
	CodeOK             SMTPCode = 250
	CodeCannotVRFY     SMTPCode = 252

	// 3xx - Intermediate
	CodeAuthContinue   SMTPCode = 334
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient failure
	CodeServiceUnavailable  SMTPCode = 421
	CodeLocalError          SMTPCode = 451
	CodeInsufficientStorage SMTPCode = 452

	// 5xx - Permanent failure
	CodeCommandUnrecognized    SMTPCode = 500
	CodeSyntaxError            SMTPCode = 501
	CodeCommandNotImplemented  SMTPCode = 502
	CodeBadSequence            SMTPCode = 503
	CodeParameterNotImpl       SMTPCode = 504
	CodeAuthRequired           SMTPCode = 530
	CodeAuthCredentialsInvalid SMTPCode = 535
	CodeMailboxNotFound        SMTPCode = 550
	CodeExceededStorage        SMTPCode = 552
	CodeMailboxNameInvalid     SMTPCode = 553
	CodeTransactionFailed      SMTPCode = 554
)

// EnhancedCode is an enhanced status code (RFC 3463, RFC 2034) in
// "class.subject.detail" form.
type EnhancedCode string

const (
	ESCSuccess         EnhancedCode = "2.0.0"
	ESCAddressValid    EnhancedCode = "2.1.0"
	ESCRecipientValid  EnhancedCode = "2.1.5"
	ESCMessageAccepted EnhancedCode = "2.6.0"
	ESCSecuritySuccess EnhancedCode = "2.7.0"

	ESCTempLocalError        EnhancedCode = "4.3.0"
	ESCTempTooManyRecipients EnhancedCode = "4.5.3"

	ESCPermFailure            EnhancedCode = "5.0.0"
	ESCBadDestMailbox         EnhancedCode = "5.1.1"
	ESCMessageTooLarge        EnhancedCode = "5.2.3"
	ESCMailSystemFull         EnhancedCode = "5.3.4"
	ESCContentError           EnhancedCode = "5.6.0"
	ESCNonASCIINoSMTPUTF8     EnhancedCode = "5.6.7"
	ESCInvalidCommand         EnhancedCode = "5.5.0"
	ESCBadCommandSequence     EnhancedCode = "5.5.1"
	ESCSyntaxError            EnhancedCode = "5.5.2"
	ESCInvalidArgs            EnhancedCode = "5.5.4"
	ESCSecurityError          EnhancedCode = "5.7.0"
	ESCAuthCredentialsInvalid EnhancedCode = "5.7.8"
)

// Response is a single SMTP reply line.
type Response struct {
	Code         SMTPCode
	EnhancedCode string
	Message      string
}

// String formats the reply without the trailing CRLF.
func (r Response) String() string {
	if r.EnhancedCode != "" {
		return fmt.Sprintf("%d %s %s", r.Code, r.EnhancedCode, r.Message)
	}
	return fmt.Sprintf("%d %s", r.Code, r.Message)
}

// IsError reports whether the reply is a 4xx or 5xx failure.
func (r Response) IsError() bool {
	return r.Code >= 400
}

// ResponseOK creates a 250 success response.
func ResponseOK(message string, enhancedCode EnhancedCode) Response {
	return Response{Code: CodeOK, EnhancedCode: string(enhancedCode), Message: message}
}

// ResponseSyntaxError creates a 501 syntax error response.
func ResponseSyntaxError(message string) Response {
	return Response{Code: CodeSyntaxError, EnhancedCode: string(ESCSyntaxError), Message: message}
}

// ResponseBadSequence creates a 503 bad sequence of commands response.
func ResponseBadSequence(message string) Response {
	return Response{Code: CodeBadSequence, EnhancedCode: string(ESCBadCommandSequence), Message: message}
}

// ResponseMailboxNotFound creates a 550 mailbox unavailable response.
func ResponseMailboxNotFound(message string) Response {
	if message == "" {
		message = "Mailbox unavailable"
	}
	return Response{Code: CodeMailboxNotFound, EnhancedCode: string(ESCBadDestMailbox), Message: message}
}

// ResponseLocalError creates a 451 local processing error response.
func ResponseLocalError(message string) Response {
	return Response{Code: CodeLocalError, EnhancedCode: string(ESCTempLocalError), Message: message}
}

// ResponseExceededStorage creates a 552 exceeded storage allocation response.
func ResponseExceededStorage(message string) Response {
	if message == "" {
		message = "Requested mail action aborted: exceeded storage allocation"
	}
	return Response{Code: CodeExceededStorage, EnhancedCode: string(ESCMailSystemFull), Message: message}
}

// ResponseAuthRequired creates a 530 response for policy rejections that
// require authentication or a secure channel first.
func ResponseAuthRequired(message string) Response {
	if message == "" {
		message = "Authentication required"
	}
	return Response{Code: CodeAuthRequired, EnhancedCode: string(ESCSecurityError), Message: message}
}

// ResponseTransactionFailed creates a 554 transaction failed response.
func ResponseTransactionFailed(message string, enhancedCode EnhancedCode) Response {
	return Response{Code: CodeTransactionFailed, EnhancedCode: string(enhancedCode), Message: message}
}

// ResponseServiceClosing creates a 221 closing response for QUIT.
func ResponseServiceClosing(hostname, message string) Response {
	return Response{Code: CodeServiceClosing, Message: fmt.Sprintf("%s %s", hostname, message)}
}
