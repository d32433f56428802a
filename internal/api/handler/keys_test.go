package handler

import (
	"strings"
	"testing"

	"github.com/kiranshivaraju/genrelay/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateKey(t *testing.T) {
	raw, key, err := GenerateKey("plugin", []string{models.ScopeRuns})
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(raw, KeyPrefix) || len(raw) != len(KeyPrefix)+48 {
		t.Errorf("unexpected raw key %q", raw)
	}
	if key.KeyPrefix != raw[:keyPrefixLen] {
		t.Errorf("prefix %q does not match raw key", key.KeyPrefix)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	other, _, err := GenerateKey("plugin", nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if other == raw {
		t.Error("keys are not random")
	}
}

func TestKeyFromSecret(t *testing.T) {
	if _, err := KeyFromSecret("bootstrap", "short", nil); err == nil {
		t.Error("expected error for short secret")
	}
	key, err := KeyFromSecret("bootstrap", "bootstrap-secret-0001", []string{models.ScopeAdmin})
	if err != nil {
		t.Fatalf("KeyFromSecret: %v", err)
	}
	if key.KeyPrefix != "bootstra" {
		t.Errorf("unexpected prefix %q", key.KeyPrefix)
	}
}
