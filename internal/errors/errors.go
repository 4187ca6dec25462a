// internal/errors/errors.go
package appErrors

import "fmt"

// ErrAccountNotFound is a sentinel error
type ErrAccountNotFound struct {
	AccountID string
}

func (e *ErrAccountNotFound) Error() string {
	return fmt.Sprintf("channel account %s not found", e.AccountID)
}

func NewAccountNotFound(id string) error {
	return &ErrAccountNotFound{AccountID: id}
}

// ErrConversationNotFound is a sentinel error
type ErrConversationNotFound struct {
	ConversationID string
}

func (e *ErrConversationNotFound) Error() string {
	return fmt.Sprintf("conversation %s not found", e.ConversationID)
}

func NewConversationNotFound(id string) error {
	return &ErrConversationNotFound{ConversationID: id}
}

// ErrValidation marks a request the caller can fix.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

// ErrRateLimitExceeded means the account hit its daily send quota.
type ErrRateLimitExceeded struct {
	AccountID string
	Limit     int
}

func (e *ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("account %s exceeded daily send limit of %d", e.AccountID, e.Limit)
}

func NewRateLimitExceeded(accountID string, limit int) error {
	return &ErrRateLimitExceeded{AccountID: accountID, Limit: limit}
}

// ErrWindowClosed means the WhatsApp 24h customer-service window expired
// and only template messages may be sent.
type ErrWindowClosed struct {
	ConversationID string
}

func (e *ErrWindowClosed) Error() string {
	return fmt.Sprintf("messaging window closed for conversation %s, template required", e.ConversationID)
}

func NewWindowClosed(conversationID string) error {
	return &ErrWindowClosed{ConversationID: conversationID}
}

// ErrAuthentication means a credential is unusable and needs operator
// attention. It is never retried automatically.
type ErrAuthentication struct {
	CredentialID string
	Reason       string
}

func (e *ErrAuthentication) Error() string {
	return fmt.Sprintf("authentication failed for credential %s: %s", e.CredentialID, e.Reason)
}

func NewAuthentication(credentialID, reason string) error {
	return &ErrAuthentication{CredentialID: credentialID, Reason: reason}
}
