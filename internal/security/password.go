package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// passwordCost defines the bcrypt work factor for new hashes.
const passwordCost = 12

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("security: empty password")
	}
	hash, errHash := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if errHash != nil {
		return "", fmt.Errorf("security: hash password: %w", errHash)
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a plaintext password.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NeedsRehash reports whether a stored hash was produced with a weaker work
// factor than passwordCost and should be regenerated on next login.
func NeedsRehash(hash string) bool {
	cost, errCost := bcrypt.Cost([]byte(hash))
	if errCost != nil {
		return false
	}
	return cost < passwordCost
}
