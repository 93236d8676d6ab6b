package commitdb

import "github.com/google/uuid"

const (
	// DefaultMaxWriteAttempts bounds the conflict-retry loop: one initial
	// write plus three retries before giving up.
	DefaultMaxWriteAttempts = 4

	// DefaultMessagePrefix prefixes every commit message.
	DefaultMessagePrefix = "commitdb: "
)

// Option configures a Client.
type Option func(*Client)

// WithMaxWriteAttempts sets the total number of conditional write attempts
// (initial attempt included) before an operation fails with
// ErrConflictExhausted. Values below 1 are ignored.
func WithMaxWriteAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxWriteAttempts = n
		}
	}
}

// WithMessagePrefix sets the prefix used on commit messages.
func WithMessagePrefix(prefix string) Option {
	return func(c *Client) {
		c.messagePrefix = prefix
	}
}

// WithIDGenerator replaces the document id generator. The default produces
// UUIDv4 strings. Generated ids are still collision-checked against the
// collection snapshot before a commit is attempted.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}
