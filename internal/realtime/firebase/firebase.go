// Package firebase implements realtime.Store on the Firebase Realtime
// Database: reads, writes and indexed queries go through the admin SDK
// client, change subscriptions through the database's REST streaming
// endpoint.
package firebase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	fb "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/matheus3301/tchat/internal/config"
	"github.com/matheus3301/tchat/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// databaseScopes are the OAuth scopes required by the REST streaming
// endpoint.
var databaseScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/firebase.database",
}

// Store is a realtime.Store backed by a Firebase Realtime Database.
type Store struct {
	db     *db.Client
	url    string
	tokens oauth2.TokenSource
	// streamClient carries no timeout: streaming responses stay open
	// indefinitely.
	streamClient *http.Client
	logger       *zap.Logger
}

var _ realtime.Store = (*Store)(nil)

// New connects to the database named by cfg. Credentials come from
// cfg.CredentialsFile when set, otherwise from application default
// credentials.
func New(ctx context.Context, cfg config.Firebase, logger *zap.Logger) (*Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := fb.NewApp(ctx, &fb.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase database: %w", err)
	}

	tokens, err := tokenSource(ctx, cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("firebase credentials: %w", err)
	}

	return &Store{
		db:           client,
		url:          strings.TrimRight(cfg.DatabaseURL, "/"),
		tokens:       tokens,
		streamClient: &http.Client{},
		logger:       logger,
	}, nil
}

func tokenSource(ctx context.Context, credentialsFile string) (oauth2.TokenSource, error) {
	if credentialsFile != "" {
		data, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, err
		}
		creds, err := google.CredentialsFromJSON(ctx, data, databaseScopes...)
		if err != nil {
			return nil, err
		}
		return creds.TokenSource, nil
	}
	return google.DefaultTokenSource(ctx, databaseScopes...)
}

// Get decodes the value at path into v.
func (s *Store) Get(ctx context.Context, path string, v any) error {
	if err := s.db.NewRef(path).Get(ctx, v); err != nil {
		return fmt.Errorf("%w: get %q: %v", realtime.ErrRead, path, err)
	}
	return nil
}

// Set writes v at path.
func (s *Store) Set(ctx context.Context, path string, v any) error {
	if err := s.db.NewRef(path).Set(ctx, v); err != nil {
		return fmt.Errorf("%w: set %q: %v", realtime.ErrWrite, path, err)
	}
	return nil
}

// Push creates a new child of path and returns its store-issued key.
func (s *Store) Push(ctx context.Context, path string, v any) (string, error) {
	ref, err := s.db.NewRef(path).Push(ctx, v)
	if err != nil {
		return "", fmt.Errorf("%w: push %q: %v", realtime.ErrWrite, path, err)
	}
	return ref.Key, nil
}

// Delete removes the value at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.db.NewRef(path).Delete(ctx); err != nil {
		return fmt.Errorf("%w: delete %q: %v", realtime.ErrWrite, path, err)
	}
	return nil
}

// QueryByChild runs an orderByChild/equalTo query. The index must be
// declared in the database rules for server-side filtering.
func (s *Store) QueryByChild(ctx context.Context, path, child string, value any) (map[string]json.RawMessage, error) {
	nodes, err := s.db.NewRef(path).OrderByChild(child).EqualTo(value).GetOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q by %q: %v", realtime.ErrRead, path, child, err)
	}
	res := make(map[string]json.RawMessage, len(nodes))
	for _, node := range nodes {
		var raw json.RawMessage
		if err := node.Unmarshal(&raw); err != nil {
			return nil, fmt.Errorf("%w: decode %q/%q: %v", realtime.ErrRead, path, node.Key(), err)
		}
		res[node.Key()] = raw
	}
	return res, nil
}
