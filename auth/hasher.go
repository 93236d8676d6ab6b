package auth

import "golang.org/x/crypto/bcrypt"

// Hasher abstracts the password hashing strategy so deployments can swap
// the primitive without touching registration or login.
type Hasher interface {
	// Hash derives a storable, salted hash from a plaintext password.
	Hash(password string) (string, error)

	// Compare checks a plaintext password against a stored hash.
	// Returns a non-nil error on mismatch.
	Compare(hash, password string) error
}

// BcryptHasher hashes passwords with bcrypt at the given cost.
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a bcrypt hasher at the library's default cost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{Cost: bcrypt.DefaultCost}
}

// Hash derives a salted bcrypt hash.
func (h *BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Compare checks a plaintext password against a stored bcrypt hash.
func (h *BcryptHasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
