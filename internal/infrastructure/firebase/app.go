package firebase

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	fbapp "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"sharebox/pkg/config"
	"sharebox/pkg/logger"
)

// Clients bundles the Firebase services the binaries need.
type Clients struct {
	Auth      *auth.Client
	Firestore *firestore.Client
}

// Credentials prefers an inline service account (production) and falls back
// to a key file (local development).
func Credentials(cfg config.Firebase) (option.ClientOption, error) {
	if cfg.ServiceAccountJSON != "" {
		logger.Info("Using Firebase service account from environment variable")
		return option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)), nil
	}

	if _, err := os.Stat(cfg.ServiceAccountPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account file does not exist: %s", cfg.ServiceAccountPath)
	}

	logger.Info("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
	return option.WithCredentialsFile(cfg.ServiceAccountPath), nil
}

func NewClients(ctx context.Context, cfg config.Firebase) (*Clients, error) {
	opt, err := Credentials(cfg)
	if err != nil {
		return nil, err
	}

	app, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.ProjectID}, opt)
	if err != nil {
		return nil, fmt.Errorf("initialize Firebase: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize Firebase Auth: %w", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.ProjectID, opt)
	if err != nil {
		return nil, fmt.Errorf("create Firestore client: %w", err)
	}

	return &Clients{Auth: authClient, Firestore: firestoreClient}, nil
}

func (c *Clients) Close() error {
	return c.Firestore.Close()
}
