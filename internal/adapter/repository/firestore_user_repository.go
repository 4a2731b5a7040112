package repository

import (
	"context"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sharebox/internal/domain/entity"
	"sharebox/internal/domain/repository"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
)

const UsersCollection = "users"

// userProfile is the users/{uid} document the web client writes on sign-up.
type userProfile struct {
	Name      string `firestore:"name"`
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Email     string `firestore:"email"`
}

func (p userProfile) displayName() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// firestoreUserRepository resolves users from the identity provider and
// fills a missing display name from the profile document.
type firestoreUserRepository struct {
	client   *firestore.Client
	identity repository.UserRepository
}

func NewFirestoreUserRepository(client *firestore.Client, identity repository.UserRepository) repository.UserRepository {
	return &firestoreUserRepository{
		client:   client,
		identity: identity,
	}
}

func (r *firestoreUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	if id == "" {
		return nil, errors.BadRequest("User id is required", nil)
	}

	var user *entity.User
	if r.identity != nil {
		u, err := r.identity.GetByID(ctx, id)
		if err != nil && !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}
		if u != nil && u.DisplayName != "" {
			return u, nil
		}
		user = u
	}

	profile, err := r.getProfile(ctx, id)
	if err != nil {
		if user != nil {
			logger.Debug("Profile for user %s unavailable, using identity record: %v", id, err)
			return user, nil
		}
		return nil, err
	}

	if user == nil {
		user = &entity.User{ID: id}
	}
	if user.DisplayName == "" {
		user.DisplayName = profile.displayName()
	}
	if user.Email == "" {
		user.Email = profile.Email
	}
	return user, nil
}

func (r *firestoreUserRepository) getProfile(ctx context.Context, id string) (*userProfile, error) {
	doc, err := r.client.Collection(UsersCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("User", err)
		}
		return nil, errors.Internal("Failed to get user profile", err)
	}

	var profile userProfile
	if err := doc.DataTo(&profile); err != nil {
		return nil, errors.Internal("Failed to decode user profile", err)
	}
	return &profile, nil
}
