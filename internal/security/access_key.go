package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// accessKeyPrefix is the prefix used for generated member access keys.
const accessKeyPrefix = "llk_"

// GenerateAccessKey creates a new random member access key string.
func GenerateAccessKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", fmt.Errorf("generate access key: %w", err)
	}
	return accessKeyPrefix + hex.EncodeToString(secret), nil
}

// IsAccessKey reports whether a string looks like a generated access key.
func IsAccessKey(key string) bool {
	return strings.HasPrefix(key, accessKeyPrefix)
}
