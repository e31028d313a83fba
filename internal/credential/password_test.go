package credential

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := VerifyPassword(hash, "correct horse")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword(hash, "battery staple")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
	other, _ := HashPassword("correct horse")
	if other == hash {
		t.Fatalf("expected distinct salts")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, h := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$aa$bb", "$argon2id$v=19$m=x$aa$bb"} {
		if _, err := VerifyPassword(h, "pw"); err == nil {
			t.Fatalf("expected error for %q", h)
		}
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}

func TestVerifyPasswordAcceptsImportedBcrypt(t *testing.T) {
	legacy, err := bcrypt.GenerateFromPassword([]byte("old secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	ok, err := VerifyPassword(string(legacy), "old secret")
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match, got ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword(string(legacy), "new secret")
	if err != nil || ok {
		t.Fatalf("expected bcrypt mismatch, got ok=%v err=%v", ok, err)
	}
	if !NeedsRehash(string(legacy)) {
		t.Fatal("bcrypt hash should need a rehash")
	}
	current, _ := HashPassword("old secret")
	if NeedsRehash(current) {
		t.Fatal("argon2id hash should not need a rehash")
	}
	if _, err := VerifyPassword("$2a$04$short", "x"); err == nil {
		t.Fatal("expected error for truncated bcrypt hash")
	}
}
