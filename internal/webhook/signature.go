package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"net/http"
	"strings"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

const defaultSignatureHeader = "X-Webhook-Signature"

// VerifySignature checks the HMAC of body against the configured header.
// The header may carry an "<algorithm>=" prefix.
func VerifySignature(cfg model.WebhookConfig, h http.Header, body []byte) error {
	if cfg.Secret == "" {
		return fmt.Errorf("%w: no secret configured", apperrors.ErrSignature)
	}
	algo := strings.ToLower(cfg.Algorithm)
	var newHash func() hash.Hash
	switch algo {
	case "", "sha256":
		algo, newHash = "sha256", sha256.New
	case "sha1":
		newHash = sha1.New
	default:
		return fmt.Errorf("%w: unsupported algorithm %q", apperrors.ErrSignature, cfg.Algorithm)
	}

	name := cfg.SignatureHeader
	if name == "" {
		name = defaultSignatureHeader
	}
	provided := strings.TrimSpace(h.Get(name))
	provided = strings.TrimPrefix(provided, algo+"=")
	if provided == "" {
		return fmt.Errorf("%w: header %s missing", apperrors.ErrSignature, name)
	}
	got, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", apperrors.ErrSignature)
	}

	if !hmac.Equal(got, Sign(newHash, cfg.Secret, body)) {
		return apperrors.ErrSignature
	}
	return nil
}

// Sign computes the raw HMAC of body.
func Sign(newHash func() hash.Hash, secret string, body []byte) []byte {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
