package util

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	if version == "" {
		t.Error("GetVersion should not return empty string")
	}
	if strings.ContainsAny(version, " \n\t") {
		t.Errorf("GetVersion should be trimmed, got %q", version)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	result := GetNameAndVersion()
	if !strings.HasPrefix(result, "vidfed / ") {
		t.Errorf("Expected 'vidfed / <version>', got '%s'", result)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "vidfed/") || !strings.HasSuffix(ua, "ActivityPub") {
		t.Errorf("Unexpected user agent %q", ua)
	}
}

func TestStableUUID(t *testing.T) {
	tests := []struct {
		name   string
		seed   string
		secret string
	}{
		{name: "video id", seed: "https://example.com/ap/video/abc", secret: "s3cret"},
		{name: "empty seed", seed: "", secret: "s3cret"},
		{name: "empty secret", seed: "seed", secret: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := StableUUID(tt.seed, tt.secret)
			second := StableUUID(tt.seed, tt.secret)
			if first != second {
				t.Errorf("StableUUID not deterministic: %s != %s", first, second)
			}
			if first.Version() != 4 {
				t.Errorf("Expected version 4, got %d", first.Version())
			}
			if first.Variant().String() != "RFC4122" {
				t.Errorf("Expected RFC4122 variant, got %s", first.Variant())
			}
		})
	}

	if StableUUID("a", "x") == StableUUID("b", "x") {
		t.Error("Different seeds should give different UUIDs")
	}
	if StableUUID("a", "x") == StableUUID("a", "y") {
		t.Error("Different secrets should give different UUIDs")
	}
}

func TestStableUUIDKnownValue(t *testing.T) {
	// md5("") = d41d8cd98f00b204e9800998ecf8427e with version and variant bits applied
	if got := StableUUID("", "").String(); got != "d41d8cd9-8f00-4204-a980-0998ecf8427e" {
		t.Errorf("Unexpected UUID %s", got)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	pair, err := GeneratePemKeypair()
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}

	priv, _ := pem.Decode([]byte(pair.Private))
	if priv == nil || priv.Type != "RSA PRIVATE KEY" {
		t.Fatal("Private key should be a PKCS#1 PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(priv.Bytes)
	if err != nil {
		t.Fatalf("Private key did not parse: %v", err)
	}
	if key.N.BitLen() < KeyBits {
		t.Errorf("Expected at least %d bits, got %d", KeyBits, key.N.BitLen())
	}

	pub, _ := pem.Decode([]byte(pair.Public))
	if pub == nil || pub.Type != "PUBLIC KEY" {
		t.Fatal("Public key should be a PKIX PEM block")
	}
	if _, err := x509.ParsePKIXPublicKey(pub.Bytes); err != nil {
		t.Fatalf("Public key did not parse: %v", err)
	}
}

func TestLoadOrCreateKeyPair(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "keys", "private.pem")
	pubPath := filepath.Join(dir, "keys", "public.pem")

	first, created, err := LoadOrCreateKeyPair(privPath, pubPath)
	if err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	if !created {
		t.Error("Expected key pair to be created on first run")
	}

	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatalf("Private key not persisted: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected private key mode 0600, got %v", info.Mode().Perm())
	}

	second, created, err := LoadOrCreateKeyPair(privPath, pubPath)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if created {
		t.Error("Key pair must not be regenerated")
	}
	if first.Private != second.Private || first.Public != second.Public {
		t.Error("Reloaded key pair differs from the persisted one")
	}
}

func TestLoadOrCreateKeyPairIncomplete(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")

	if err := os.WriteFile(privPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := LoadOrCreateKeyPair(privPath, pubPath); err == nil {
		t.Error("Expected error when only the private key exists")
	}
}

func TestLoadLanguages(t *testing.T) {
	langs, err := LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages failed: %v", err)
	}

	tests := []struct {
		code string
		want bool
	}{
		{"en", true},
		{"fr", true},
		{"no", true},
		{"xx", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := langs.Has(tt.code); got != tt.want {
			t.Errorf("Has(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if langs.Name("de") != "German" {
		t.Errorf("Expected German, got %q", langs.Name("de"))
	}
}

func TestResolveFilePath(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	abs := filepath.Join(t.TempDir(), "keys", "private.pem")
	if got := ResolveFilePath(abs); got != abs {
		t.Errorf("Absolute path should be kept, got %s", got)
	}

	if got := ResolveFilePath("missing.db"); got != filepath.Join(home, "missing.db") {
		t.Errorf("Expected %s, got %s", filepath.Join(home, "missing.db"), got)
	}

	dir, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir failed: %v", err)
	}
	if dir != home {
		t.Errorf("Expected %s, got %s", home, dir)
	}
}
