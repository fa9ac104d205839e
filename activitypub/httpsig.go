package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
	"github.com/deemkeen/vidfed/util"
)

const (
	requestTarget = "(request-target)"
	// clock skew tolerated on the Date header of inbound requests
	maxDateSkew = 12 * time.Hour
)

var (
	postSignedHeaders = []string{requestTarget, "host", "date", "digest"}
	getSignedHeaders  = []string{requestTarget, "host", "date"}
)

// Identity is the key material of the local instance actor. It is loaded
// once at startup and shared by every signing operation.
type Identity struct {
	KeyID        string
	Owner        string
	Key          *rsa.PrivateKey
	PublicKeyPem string
}

func NewIdentity(keys *util.RsaKeyPair, owner string) (*Identity, error) {
	if keys == nil || keys.Private == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	key, err := ParsePrivateKey(keys.Private)
	if err != nil {
		return nil, err
	}
	return &Identity{
		KeyID:        owner + "#main-key",
		Owner:        owner,
		Key:          key,
		PublicKeyPem: keys.Public,
	}, nil
}

// SignedHeaders returns the headers of a POST of body to targetURL, signed
// over (request-target), host, date and digest.
func SignedHeaders(body []byte, targetURL string, id *Identity) (http.Header, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", targetURL, err)
	}
	req, err := http.NewRequest(http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Host", u.Host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Content-Type", ContentType)

	if err := sign(req, body, id, postSignedHeaders); err != nil {
		return nil, err
	}
	return req.Header, nil
}

// SignRequest signs an outgoing GET for authorized fetch.
func SignRequest(req *http.Request, id *Identity) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Set("Host", req.URL.Host)
	return sign(req, nil, id, getSignedHeaders)
}

func sign(req *http.Request, body []byte, id *Identity, headers []string) error {
	if id == nil || id.Key == nil {
		return fmt.Errorf("signing %s: no private key", req.URL)
	}
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	if err := signer.SignRequest(id.Key, id.KeyID, req, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

// SignatureKeyID returns the keyId announced in the request's Signature header.
func SignatureKeyID(r *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return verifier.KeyId(), nil
}

// KeyOwner strips the fragment from a keyId: ".../accounts/x#main-key" -> ".../accounts/x".
func KeyOwner(keyID string) string {
	owner, _, _ := strings.Cut(keyID, "#")
	return owner
}

// VerifyRequest checks the HTTP signature of an inbound request against
// publicKey, together with the body digest and the freshness of its Date.
func VerifyRequest(r *http.Request, body []byte, publicKey *rsa.PublicKey) error {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	covered := signedHeaderList(r.Header.Get("Signature"))
	required := getSignedHeaders
	if r.Method == http.MethodPost {
		required = postSignedHeaders
	}
	for _, h := range required {
		if !covered[h] {
			return fmt.Errorf("%w: %s is not covered", ErrSignature, h)
		}
	}

	date, err := http.ParseTime(r.Header.Get("Date"))
	if err != nil {
		return fmt.Errorf("%w: bad date header: %v", ErrSignature, err)
	}
	if skew := time.Since(date); skew > maxDateSkew || skew < -maxDateSkew {
		return fmt.Errorf("%w: date %s outside the accepted window", ErrSignature, date.Format(time.RFC3339))
	}

	if r.Method == http.MethodPost || len(body) > 0 {
		if got, want := r.Header.Get("Digest"), Digest(body); got != want {
			return fmt.Errorf("%w: digest mismatch", ErrSignature)
		}
	}

	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return nil
}

// VerifyHeaders verifies a signature produced by SignedHeaders without a live request.
func VerifyHeaders(method, targetURL string, body []byte, headers http.Header, publicKey *rsa.PublicKey) error {
	req, err := http.NewRequest(method, targetURL, nil)
	if err != nil {
		return err
	}
	req.Header = headers.Clone()
	if host := headers.Get("Host"); host != "" {
		req.Host = host
	}
	return VerifyRequest(req, body, publicKey)
}

// Digest is the value of the Digest header for body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// signedHeaderList extracts the headers="..." parameter of a Signature header.
func signedHeaderList(signature string) map[string]bool {
	covered := make(map[string]bool)
	for _, param := range strings.Split(signature, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || name != "headers" {
			continue
		}
		for _, h := range strings.Fields(strings.Trim(value, `"`)) {
			covered[strings.ToLower(h)] = true
		}
	}
	return covered
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		if key, err1 := x509.ParsePKCS1PublicKey(block.Bytes); err1 == nil {
			return key, nil
		}
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
