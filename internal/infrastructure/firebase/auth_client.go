package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"sharebox/internal/domain/entity"
	"sharebox/pkg/errors"
)

// FirebaseAuthClient verifies ID tokens and reads user records. It serves
// both as the token verifier and as the user repository.
type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.Unauthorized("Token is required", nil)
	}

	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}

	return result.UID, nil
}

func (f *FirebaseAuthClient) GetByID(ctx context.Context, id string) (*entity.User, error) {
	record, err := f.client.GetUser(ctx, id)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.Internal("Failed to load user", err)
	}

	return &entity.User{
		ID:          record.UID,
		DisplayName: record.DisplayName,
		Email:       record.Email,
	}, nil
}

// Ping checks that the auth backend answers. An unknown uid is a healthy
// answer.
func (f *FirebaseAuthClient) Ping(ctx context.Context) error {
	_, err := f.client.GetUser(ctx, "sharebox-health-check")
	if err != nil && !auth.IsUserNotFound(err) {
		return errors.Unavailable("Firebase Auth unreachable", err)
	}
	return nil
}
