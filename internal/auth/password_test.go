package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash == "hunter2" {
		t.Fatalf("hash must not equal the plaintext")
	}
	if !VerifyPassword(hash, "hunter2") {
		t.Fatalf("expected matching password to verify")
	}
	if VerifyPassword(hash, "hunter3") {
		t.Fatalf("expected mismatched password rejected")
	}
	if VerifyPassword("", "hunter2") || VerifyPassword(hash, "") {
		t.Fatalf("empty inputs must never verify")
	}
}

func TestHashPasswordRejectsEmptyInput(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected empty password rejected")
	}
}
