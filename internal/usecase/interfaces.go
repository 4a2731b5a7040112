package usecase

import "context"

// TokenVerifier resolves a Firebase ID token to a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Notifier pushes a payload to every live connection of a user.
type Notifier interface {
	SendToUser(userID string, payload []byte)
}
