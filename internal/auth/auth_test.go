package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerifyToken(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken() failed: %v", err)
	}

	if claims.UserID != "user-1" {
		t.Errorf("Expected UserID 'user-1', got '%s'", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Expected Username 'alice', got '%s'", claims.Username)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	m := NewManager("secret-a", time.Hour)
	other := NewManager("secret-b", time.Hour)

	token, err := m.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	if _, err := other.VerifyToken(token); err == nil {
		t.Error("Expected verification to fail with a different secret")
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute)

	token, err := m.IssueToken("user-1", "alice")
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	if _, err := m.VerifyToken(token); err == nil {
		t.Error("Expected verification of expired token to fail")
	}
}

func TestVerifyToken_Garbage(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	if _, err := m.VerifyToken("not-a-token"); err == nil {
		t.Error("Expected verification of garbage to fail")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}

	if hash == "hunter2" {
		t.Error("Hash should not equal the plaintext password")
	}

	if !CheckPassword(hash, "hunter2") {
		t.Error("Expected correct password to verify")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("Expected wrong password to fail verification")
	}
}
