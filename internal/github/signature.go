package github

import (
	"errors"
	"strings"

	gh "github.com/google/go-github/v57/github"
)

// SignatureHeader carries the HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Signature verification errors.
var (
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	ErrMissingSignature    = errors.New("no signature provided")
	ErrInvalidSignature    = errors.New("invalid signature")
)

// VerifySignature checks header against the HMAC-SHA256 of body keyed with
// secret. The comparison is constant time.
func VerifySignature(body []byte, header, secret string) error {
	if secret == "" {
		return ErrSecretNotConfigured
	}
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrInvalidSignature
	}
	if err := gh.ValidateSignature(header, body, []byte(secret)); err != nil {
		return ErrInvalidSignature
	}
	return nil
}
