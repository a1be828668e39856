package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-passw0rd")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-passw0rd" {
		t.Fatal("password stored in plaintext")
	}
	if !CheckPassword(hash, "s3cret-passw0rd") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("wrong password accepted")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, err := bcrypt.GenerateFromPassword([]byte("s3cret-passw0rd"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	if !NeedsRehash(string(weak)) {
		t.Error("low-cost hash not flagged for rehash")
	}
	current, err := HashPassword("s3cret-passw0rd")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if NeedsRehash(current) {
		t.Error("current-cost hash flagged for rehash")
	}
	if NeedsRehash("not-a-bcrypt-hash") {
		t.Error("malformed hash flagged for rehash")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("test-secret", 42, "ada", "Ada", "ada@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken("test-secret", token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "ada" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken("test-secret", 1, "ada", "Ada", "ada@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseToken("other-secret", token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	token, err := GenerateToken("test-secret", 1, "ada", "Ada", "ada@example.com", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := ParseToken("test-secret", token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestGenerateAccessKey(t *testing.T) {
	key, err := GenerateAccessKey()
	if err != nil {
		t.Fatalf("GenerateAccessKey: %v", err)
	}
	if !strings.HasPrefix(key, "llk_") {
		t.Errorf("key %q missing prefix", key)
	}
	if len(key) != len("llk_")+64 {
		t.Errorf("key length = %d", len(key))
	}
	if !IsAccessKey(key) {
		t.Error("IsAccessKey rejected a generated key")
	}
	other, _ := GenerateAccessKey()
	if key == other {
		t.Error("two generated keys are identical")
	}
}
