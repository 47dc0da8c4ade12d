package service

import "errors"

// Domain errors surfaced to clients as correlated error frames. They are
// never retried by the outbox.
var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("chat not found")
	ErrSelfChat           = errors.New("cannot create a chat with yourself")
	ErrDuplicateChat      = errors.New("chat already exists")
	ErrNotParticipant     = errors.New("user is not a participant of this chat")
	ErrInvalidCiphertext  = errors.New("ciphertext is empty or exceeds the size limit")
)
