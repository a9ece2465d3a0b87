package service

import "errors"

// Failure taxonomy shared by the messaging services. Handlers map these to
// HTTP statuses at the boundary.
var (
	// ErrNotFound covers targets that do not exist or are not visible to the actor.
	ErrNotFound = errors.New("resource not found")
	// ErrForbidden covers resolved principals lacking rights over the target.
	ErrForbidden = errors.New("insufficient permissions")
	// ErrBlocked rejects private-conversation creation between a blocked pair.
	ErrBlocked = errors.New("conversation not allowed between blocked principals")
	// ErrAlreadyMember rejects joining a conversation twice.
	ErrAlreadyMember = errors.New("already a member of this conversation")
	// ErrAlreadyBlocked rejects duplicate block edges.
	ErrAlreadyBlocked = errors.New("principal is already blocked")
	// ErrInvalidPayload covers semantic validation beyond struct tags.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrGateway covers moderation/encryption backend failures; sends abort.
	ErrGateway = errors.New("upstream gateway failure")
)
