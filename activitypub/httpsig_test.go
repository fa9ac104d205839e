package activitypub

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/deemkeen/vidfed/util"
)

// generateTestKeyPair generates an RSA key pair for testing
func generateTestKeyPair() (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}
	return privateKey, &privateKey.PublicKey, nil
}

// calculateDigest calculates SHA-256 digest for request body
func calculateDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	keyBytes := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM)
}

// newTestIdentity builds a signing identity owned by owner with a fresh key pair
func newTestIdentity(t *testing.T, owner string) *Identity {
	t.Helper()
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	id, err := NewIdentity(keys, owner)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	return id
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(key *rsa.PublicKey) (string, error) {
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM), nil
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	pemString := privateKeyToPEM(privateKey)

	parsed, err := ParsePrivateKey(pemString)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if parsed == nil {
		t.Fatal("ParsePrivateKey returned nil")
	}

	// Verify the key can be used for signing
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	_, err := ParsePrivateKey("not a valid PEM")
	if err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePrivateKeyEmptyString(t *testing.T) {
	_, err := ParsePrivateKey("")
	if err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePublicKey(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	pemString, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}

	parsed, err := ParsePublicKey(pemString)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	if parsed == nil {
		t.Fatal("ParsePublicKey returned nil")
	}

	// Verify the key matches
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	_, err := ParsePublicKey("not a valid PEM")
	if err == nil {
		t.Error("Expected error for invalid PEM")
	}
}

func TestParsePublicKeyEmptyString(t *testing.T) {
	_, err := ParsePublicKey("")
	if err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePKCS8PrivateKey(t *testing.T) {
	privateKey, _, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey failed: %v", err)
	}
	pemString := string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))

	parsed, err := ParsePrivateKey(pemString)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePKCS1PublicKey(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	pemString := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(publicKey),
	}))

	parsed, err := ParsePublicKey(pemString)
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestNewIdentity(t *testing.T) {
	if _, err := NewIdentity(nil, "https://video.example/ap"); err == nil {
		t.Error("Expected error for missing key pair")
	}
	if _, err := NewIdentity(&util.RsaKeyPair{Private: "garbage"}, "https://video.example/ap"); err == nil {
		t.Error("Expected error for unparseable key")
	}

	id := newTestIdentity(t, "https://video.example/ap")
	if id.KeyID != "https://video.example/ap#main-key" {
		t.Errorf("Expected keyId with #main-key fragment, got %s", id.KeyID)
	}
	if id.Owner != "https://video.example/ap" {
		t.Errorf("Expected owner https://video.example/ap, got %s", id.Owner)
	}
}

func TestDigest(t *testing.T) {
	// sha256 of the empty string
	if got := Digest([]byte{}); got != "SHA-256=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=" {
		t.Errorf("Unexpected digest of empty body: %s", got)
	}
	body := []byte(`{"type":"Follow"}`)
	if Digest(body) != calculateDigest(body) {
		t.Error("Digest doesn't match SHA-256 of body")
	}
}

func TestSignedHeadersRoundtrip(t *testing.T) {
	id := newTestIdentity(t, "https://video.example/ap")
	publicKey := &id.Key.PublicKey

	tests := []struct {
		name   string
		target string
		body   []byte
	}{
		{
			name:   "shared inbox",
			target: "https://remote.example/inbox",
			body:   []byte(`{"type":"Announce","object":"https://video.example/ap/video/abc"}`),
		},
		{
			name:   "account inbox with port",
			target: "http://localhost:9000/accounts/peertube/inbox",
			body:   []byte(`{"type":"Follow"}`),
		},
		{
			name:   "empty body",
			target: "https://remote.example/inbox",
			body:   []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := SignedHeaders(tt.body, tt.target, id)
			if err != nil {
				t.Fatalf("SignedHeaders failed: %v", err)
			}

			for _, h := range []string{"Host", "Date", "Digest", "Signature"} {
				if headers.Get(h) == "" {
					t.Errorf("Expected %s header to be set", h)
				}
			}
			if headers.Get("Digest") != Digest(tt.body) {
				t.Errorf("Digest header %s doesn't match body", headers.Get("Digest"))
			}
			sig := headers.Get("Signature")
			if !strings.Contains(sig, `keyId="https://video.example/ap#main-key"`) {
				t.Errorf("Signature doesn't carry the keyId: %s", sig)
			}
			if !strings.Contains(sig, `headers="(request-target) host date digest"`) {
				t.Errorf("Signature doesn't cover the expected headers: %s", sig)
			}

			if err := VerifyHeaders(http.MethodPost, tt.target, tt.body, headers, publicKey); err != nil {
				t.Fatalf("VerifyHeaders failed: %v", err)
			}
		})
	}
}

func TestVerifyHeadersRejectsTampering(t *testing.T) {
	id := newTestIdentity(t, "https://video.example/ap")
	other := newTestIdentity(t, "https://video.example/ap")
	target := "https://remote.example/inbox"
	body := []byte(`{"type":"Follow","object":"https://remote.example/accounts/peertube"}`)

	headers, err := SignedHeaders(body, target, id)
	if err != nil {
		t.Fatalf("SignedHeaders failed: %v", err)
	}

	tests := []struct {
		name   string
		target string
		body   []byte
		key    *rsa.PublicKey
	}{
		{"modified body", target, []byte(`{"type":"Undo"}`), &id.Key.PublicKey},
		{"wrong key", target, body, &other.Key.PublicKey},
		{"different path", "https://remote.example/accounts/bob/inbox", body, &id.Key.PublicKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyHeaders(http.MethodPost, tt.target, tt.body, headers, tt.key)
			if !errors.Is(err, ErrSignature) {
				t.Errorf("Expected ErrSignature, got %v", err)
			}
		})
	}
}

func TestVerifyRequestStaleDate(t *testing.T) {
	id := newTestIdentity(t, "https://video.example/ap")
	body := []byte(`{"type":"Follow"}`)

	req, err := http.NewRequest(http.MethodPost, "https://remote.example/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Host", "remote.example")
	req.Header.Set("Date", time.Now().Add(-13*time.Hour).UTC().Format(http.TimeFormat))
	if err := sign(req, body, id, postSignedHeaders); err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	err = VerifyRequest(req, body, &id.Key.PublicKey)
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("Expected ErrSignature, got %v", err)
	}
	if !strings.Contains(err.Error(), "window") {
		t.Errorf("Expected a date window error, got %v", err)
	}
}

func TestVerifyRequestUnsigned(t *testing.T) {
	_, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, "https://remote.example/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	if err := VerifyRequest(req, []byte(`{}`), publicKey); !errors.Is(err, ErrSignature) {
		t.Errorf("Expected ErrSignature, got %v", err)
	}
	if _, err := SignatureKeyID(req); !errors.Is(err, ErrSignature) {
		t.Errorf("Expected ErrSignature from SignatureKeyID, got %v", err)
	}
}

func TestSignRequestGet(t *testing.T) {
	id := newTestIdentity(t, "https://video.example/ap")

	req, err := http.NewRequest(http.MethodGet, "https://remote.example/accounts/peertube", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if err := SignRequest(req, id); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	if req.Header.Get("Digest") != "" {
		t.Error("GET requests should not carry a Digest")
	}
	keyID, err := SignatureKeyID(req)
	if err != nil {
		t.Fatalf("SignatureKeyID failed: %v", err)
	}
	if keyID != id.KeyID {
		t.Errorf("Expected keyId %s, got %s", id.KeyID, keyID)
	}
	if err := VerifyRequest(req, nil, &id.Key.PublicKey); err != nil {
		t.Errorf("VerifyRequest failed: %v", err)
	}

	// a signature without digest must not authenticate a POST
	post, err := http.NewRequest(http.MethodPost, "https://remote.example/accounts/peertube", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	post.Header = req.Header.Clone()
	if err := VerifyRequest(post, []byte(`{}`), &id.Key.PublicKey); !errors.Is(err, ErrSignature) {
		t.Errorf("Expected ErrSignature for POST signed as GET, got %v", err)
	}
}

func TestSignWithoutKey(t *testing.T) {
	if _, err := SignedHeaders([]byte(`{}`), "https://remote.example/inbox", nil); err == nil {
		t.Error("Expected error when signing without identity")
	}
}

func TestKeyOwner(t *testing.T) {
	tests := []struct {
		keyID string
		want  string
	}{
		{"https://remote.example/accounts/peertube#main-key", "https://remote.example/accounts/peertube"},
		{"https://remote.example/users/alice#key-1", "https://remote.example/users/alice"},
		{"https://remote.example/users/alice", "https://remote.example/users/alice"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.keyID, func(t *testing.T) {
			if got := KeyOwner(tt.keyID); got != tt.want {
				t.Errorf("KeyOwner(%q) = %q, want %q", tt.keyID, got, tt.want)
			}
		})
	}
}
