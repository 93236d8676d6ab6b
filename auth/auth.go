// Package auth layers a registration and login flow over a reserved users
// collection of the document store. Passwords are hashed before they ever
// reach the backend; the plaintext is never persisted.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/custodia-labs/commitdb"
	"github.com/custodia-labs/commitdb/schema"
)

// Reserved user document fields.
const (
	FieldEmail        = "email"
	FieldPasswordHash = "passwordHash"
)

// DefaultCollection is the collection users are stored in.
const DefaultCollection = "users"

// Auth errors.
var (
	// ErrEmailTaken indicates a registration attempt with an email that
	// already exists (case-insensitive).
	ErrEmailTaken = errors.New("auth: email already registered")

	// ErrInvalidCredentials indicates a failed login. It deliberately does
	// not distinguish an unknown email from a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Service handles registration and login against the users collection.
type Service struct {
	client     *commitdb.Client
	hasher     Hasher
	collection string
	dummyHash  string
}

// NewService creates an auth service over a document store client.
// A nil hasher defaults to bcrypt.
func NewService(client *commitdb.Client, hasher Hasher) (*Service, error) {
	if hasher == nil {
		hasher = NewBcryptHasher()
	}

	// Hashed once so logins against unknown emails still pay for one
	// comparison; the error path must not leak which field was wrong.
	dummy, err := hasher.Hash("commitdb-no-such-user")
	if err != nil {
		return nil, err
	}

	return &Service{
		client:     client,
		hasher:     hasher,
		collection: DefaultCollection,
		dummyHash:  dummy,
	}, nil
}

// WithCollection changes the users collection name. Returns the service for
// chaining during composition.
func (s *Service) WithCollection(name string) *Service {
	s.collection = name
	return s
}

// Register creates a user document: rejects duplicate emails
// (case-insensitive), hashes the password, and delegates the rest of schema
// handling to the document store client.
//
// The uniqueness check runs inside the client's conflict-retry loop, so a
// registration that loses the revision race to another client is re-checked
// against the fresh users snapshot instead of a stale cache. Two admin tabs
// racing on the same email produce one user and one ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, password string, extra commitdb.Document) (commitdb.Document, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, &schema.ValidationError{Kind: schema.MissingRequiredField, Field: FieldEmail}
	}
	if password == "" {
		return nil, &schema.ValidationError{Kind: schema.MissingRequiredField, Field: "password"}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	doc := commitdb.Document{}
	for k, v := range extra {
		// Never let a caller smuggle credentials past the hashing step.
		if k == FieldPasswordHash || k == "password" {
			continue
		}
		doc[k] = v
	}
	doc[FieldEmail] = email
	doc[FieldPasswordHash] = hash

	return s.client.InsertIf(ctx, s.collection, doc, func(users []commitdb.Document) error {
		if emailExists(users, email) {
			return ErrEmailTaken
		}
		return nil
	})
}

// emailExists reports whether any user document carries the given email,
// compared case-insensitively.
func emailExists(users []commitdb.Document, email string) bool {
	lowered := strings.ToLower(email)
	for _, u := range users {
		stored, _ := u[FieldEmail].(string)
		if strings.ToLower(strings.TrimSpace(stored)) == lowered {
			return true
		}
	}
	return false
}

// Login verifies an email/password pair and returns the matching user
// document. Any failure is ErrInvalidCredentials; unknown emails still pay
// for one hash comparison.
func (s *Service) Login(ctx context.Context, email, password string) (commitdb.Document, error) {
	user, err := s.findByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}

	if user == nil {
		_ = s.hasher.Compare(s.dummyHash, password)
		return nil, ErrInvalidCredentials
	}

	hash, _ := user[FieldPasswordHash].(string)
	if err := s.hasher.Compare(hash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// findByEmail returns the user with the given email (case-insensitive),
// or nil when absent.
func (s *Service) findByEmail(ctx context.Context, email string) (commitdb.Document, error) {
	lowered := strings.ToLower(email)
	users, err := s.client.Get(ctx, s.collection, func(d commitdb.Document) bool {
		stored, _ := d[FieldEmail].(string)
		return strings.ToLower(strings.TrimSpace(stored)) == lowered
	})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}
