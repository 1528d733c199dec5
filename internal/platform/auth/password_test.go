package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatal("hash must not equal the password")
	}
	if !h.Check(hash, "s3cret-pass") {
		t.Error("expected matching password to check")
	}
	if h.Check(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
	if h.Check("not-a-hash", "s3cret-pass") {
		t.Error("malformed hash must not match")
	}
}

func TestNewPasswordHasher_DefaultCost(t *testing.T) {
	if NewPasswordHasher(0).Cost != 12 {
		t.Error("expected default cost 12")
	}
}
