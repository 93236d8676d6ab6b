// Package githubstore implements the conditional store port on top of the
// GitHub repository contents API.
//
// Every collection is one file in a Git repository. Reads return the file's
// blob SHA as the revision marker; writes send that SHA back as the commit
// precondition, so a concurrent commit from another client surfaces as
// store.ErrConflict instead of a lost update.
package githubstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/commitdb/internal/logger"
	"github.com/custodia-labs/commitdb/store"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// Ensure Store implements the interfaces.
var (
	_ store.Conditional         = (*Store)(nil)
	_ store.CredentialValidator = (*Store)(nil)
)

// Config holds the settings for one backing repository.
type Config struct {
	// Owner and Repo identify the repository holding the collection files.
	Owner string
	Repo  string

	// Branch is the branch commits go to. Empty means the default branch.
	Branch string

	// BasePath is a directory prefix joined onto every resource path,
	// e.g. "data" stores the blog collection at data/blog.json.
	BasePath string

	// Token is a PAT or OAuth access token with contents read/write scope.
	Token string

	// CommitterName and CommitterEmail are recorded on every commit.
	// Empty values fall back to the token's account.
	CommitterName  string
	CommitterEmail string

	// Timeout bounds each HTTP request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Store is a conditional store backed by the GitHub contents API.
type Store struct {
	gh          *gh.Client
	cfg         Config
	rateLimiter *rateLimiter
	initOnce    sync.Once
}

// New creates a store for the configured repository. The underlying API
// client is initialized lazily on first use.
func New(cfg Config) *Store {
	return &Store{
		cfg:         cfg,
		rateLimiter: newRateLimiter(),
	}
}

// NewWithClient creates a store with a pre-built go-github client.
// Useful for tests and for OAuth flows where the http.Client handles
// token refresh.
func NewWithClient(client *gh.Client, cfg Config) *Store {
	return &Store{
		gh:          client,
		cfg:         cfg,
		rateLimiter: newRateLimiter(),
	}
}

// ensureClient initializes the go-github client if not already done.
// Guarded by sync.Once: the first reads may arrive from several goroutines.
func (s *Store) ensureClient(ctx context.Context) {
	s.initOnce.Do(func() {
		if s.gh != nil {
			// Pre-built via NewWithClient.
			return
		}

		timeout := s.cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}

		var hc *http.Client
		if s.cfg.Token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.cfg.Token})
			hc = oauth2.NewClient(ctx, ts)
		} else {
			hc = &http.Client{}
		}
		hc.Timeout = timeout
		s.gh = gh.NewClient(hc)
	})
}

// Read fetches the current content and blob SHA of a resource.
// A missing file yields (nil, NoRevision, nil): collections are created
// implicitly on first write.
func (s *Store) Read(ctx context.Context, p string) ([]byte, store.Revision, error) {
	s.ensureClient(ctx)
	if err := s.rateLimiter.wait(ctx); err != nil {
		return nil, store.NoRevision, fmt.Errorf("rate limit wait: %w", err)
	}

	opts := &gh.RepositoryContentGetOptions{Ref: s.cfg.Branch}
	fc, _, resp, err := s.gh.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, s.resourcePath(p), opts)
	s.updateRateLimitFromResponse(resp)
	if err != nil {
		wrapped := s.wrapError(err, "get contents")
		if IsNotFound(wrapped) {
			logger.Debug("githubstore: %s does not exist yet", s.resourcePath(p))
			return nil, store.NoRevision, nil
		}
		return nil, store.NoRevision, wrapped
	}
	if fc == nil {
		return nil, store.NoRevision, fmt.Errorf("githubstore: %q is a directory, not a file", s.resourcePath(p))
	}

	decoded, err := fc.GetContent()
	if err != nil {
		return nil, store.NoRevision, fmt.Errorf("decode content: %w", err)
	}
	return []byte(decoded), store.Revision(fc.GetSHA()), nil
}

// Write commits new content for a resource, using the expected revision as
// the precondition. NoRevision creates the file; anything else updates it
// against the given blob SHA.
func (s *Store) Write(ctx context.Context, p string, data []byte, expected store.Revision, message string) (store.Revision, error) {
	s.ensureClient(ctx)
	if err := s.rateLimiter.wait(ctx); err != nil {
		return store.NoRevision, fmt.Errorf("rate limit wait: %w", err)
	}

	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(message),
		Content: data,
	}
	if s.cfg.Branch != "" {
		opts.Branch = gh.Ptr(s.cfg.Branch)
	}
	if s.cfg.CommitterName != "" {
		opts.Committer = &gh.CommitAuthor{
			Name:  gh.Ptr(s.cfg.CommitterName),
			Email: gh.Ptr(s.cfg.CommitterEmail),
		}
	}

	var (
		res  *gh.RepositoryContentResponse
		resp *gh.Response
		err  error
	)
	if expected == store.NoRevision {
		res, resp, err = s.gh.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, s.resourcePath(p), opts)
	} else {
		opts.SHA = gh.Ptr(string(expected))
		res, resp, err = s.gh.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, s.resourcePath(p), opts)
	}
	s.updateRateLimitFromResponse(resp)
	if err != nil {
		// A deadline on a write is inconclusive: the commit may have
		// landed. Surface it as a timeout, never as a conflict.
		if errors.Is(err, context.DeadlineExceeded) {
			return store.NoRevision, fmt.Errorf("write %q: %w", p, store.ErrTimeout)
		}
		wrapped := s.wrapError(err, "write contents")
		if isPreconditionFailure(wrapped) {
			logger.Debug("githubstore: conflicting commit on %s", s.resourcePath(p))
			return store.NoRevision, fmt.Errorf("write %q: %w", p, store.ErrConflict)
		}
		return store.NoRevision, wrapped
	}

	return store.Revision(res.GetContent().GetSHA()), nil
}

// resourcePath joins the configured base path onto a resource path.
func (s *Store) resourcePath(p string) string {
	if s.cfg.BasePath == "" {
		return p
	}
	return path.Join(s.cfg.BasePath, p)
}

// isPreconditionFailure reports whether an API error means the SHA
// precondition did not hold. GitHub answers 409 when the branch moved and
// 422 when the blob SHA is stale or missing for an existing file.
func isPreconditionFailure(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// updateRateLimitFromResponse updates the rate limiter from response headers.
func (s *Store) updateRateLimitFromResponse(resp *gh.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	s.rateLimiter.updateFromResponse(resp.Response)
}

// wrapError converts go-github errors to our error types.
func (s *Store) wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		url := ""
		if ghErr.Response.Request != nil && ghErr.Response.Request.URL != nil {
			url = ghErr.Response.Request.URL.String()
		}
		return &APIError{
			StatusCode: ghErr.Response.StatusCode,
			Message:    ghErr.Message,
			URL:        url,
		}
	}

	var rateLimitErr *gh.RateLimitError
	if errors.As(err, &rateLimitErr) {
		remaining, limit, resetAt := s.rateLimiter.stats()
		return &RateLimitError{
			ResetAt:   resetAt,
			Remaining: remaining,
			Limit:     limit,
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// ValidateCredentials checks the configured token by fetching the
// authenticated user.
func (s *Store) ValidateCredentials(ctx context.Context) error {
	s.ensureClient(ctx)
	if err := s.rateLimiter.wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, resp, err := s.gh.Users.Get(ctx, "")
	s.updateRateLimitFromResponse(resp)
	if err != nil {
		return s.wrapError(err, "validate credentials")
	}
	return nil
}
