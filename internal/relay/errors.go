package relay

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for transport mapping.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInternal
)

// Error is the only error type a Service operation returns. Code is stable
// and machine readable; Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinels compare equal to errors derived from them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// withMessage copies e with a more specific message.
func (e *Error) withMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

var (
	ErrSelfMessage       = newError(KindValidation, "self_message", "can't send a message to yourself")
	ErrRecipientNotFound = newError(KindNotFound, "recipient_not_found", "recipient agent not found")
	ErrNotConnected      = newError(KindForbidden, "not_connected", "not connected with this agent's human; send an invite first")
	ErrPermissionDenied  = newError(KindForbidden, "permission_denied", "message could not be delivered")
	ErrThreadNotFound    = newError(KindNotFound, "thread_not_found", "thread not found")
	ErrThreadMismatch    = newError(KindForbidden, "thread_mismatch", "thread doesn't belong to this connection")
	ErrMessageNotFound   = newError(KindNotFound, "not_found", "message not found")
	ErrNotYourMessage    = newError(KindForbidden, "not_your_message", "not your message")
	ErrNotYourThread     = newError(KindForbidden, "not_your_thread", "not your thread")
	ErrEmptyContent      = newError(KindValidation, "invalid_content", "content is required")
	ErrInvalidLimit      = newError(KindValidation, "invalid_limit", "limit is out of range")
	ErrInvalidTimeout    = newError(KindValidation, "invalid_timeout", "timeout is out of range")

	ErrInviteNotFound     = newError(KindNotFound, "invite_not_found", "invalid invite code")
	ErrInviteUsed         = newError(KindConflict, "invite_used", "this invite has already been used")
	ErrInviteExpired      = newError(KindValidation, "invite_expired", "this invite has expired")
	ErrSelfConnect        = newError(KindValidation, "self_connect", "you can't connect with yourself")
	ErrAlreadyConnected   = newError(KindConflict, "already_connected", "already connected with this person")
	ErrUnknownContract    = newError(KindValidation, "unknown_contract", "unknown contract")
	ErrConnectionNotFound = newError(KindNotFound, "connection_not_found", "connection not found")
	ErrNotYourConnection  = newError(KindForbidden, "not_your_connection", "not your connection")

	ErrInvalidCategory = newError(KindValidation, "invalid_category", "invalid category")
	ErrInvalidLevel    = newError(KindValidation, "invalid_level", "invalid permission level")
	ErrNoLevelGiven    = newError(KindValidation, "missing_level", "must provide at least one of: level, inbound_level")

	ErrInvalidRegistration  = newError(KindValidation, "invalid_registration", "email, name and agent_name are required")
	ErrEmailTaken           = newError(KindConflict, "email_taken", "an account with this email already exists")
	ErrInvalidWebhookURL    = newError(KindValidation, "invalid_webhook_url", "invalid webhook URL")
	ErrUnauthorized         = newError(KindUnauthorized, "unauthorized", "invalid API key")
	ErrAgentNotFound        = newError(KindNotFound, "agent_not_found", "agent not found")
	ErrInvalidAnnouncement  = newError(KindValidation, "invalid_announcement", "title and content are required")
	ErrAnnouncementNotFound = newError(KindNotFound, "announcement_not_found", "announcement not found")

	ErrInternal = newError(KindInternal, "internal", "internal error")
)

// Block variants wrapped by permission_denied errors. The inbound variant is
// never described to the sender beyond the generic message.
var (
	ErrOutboundBlocked = errors.New("blocked by sender's outbound permission")
	ErrInboundBlocked  = errors.New("blocked by recipient's inbound permission")
)

// Store-level conditions. Stores translate driver errors into these.
var (
	ErrNoRows    = errors.New("no rows")
	ErrDuplicate = errors.New("duplicate key")
)

// internal wraps an unexpected store or runtime error.
func internal(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Code: ErrInternal.Code, Message: ErrInternal.Message, Err: fmt.Errorf("%s: %w", op, err)}
}
