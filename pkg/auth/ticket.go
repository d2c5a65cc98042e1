package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ccl/workqueue/pkg/wire"
)

// TicketMethod is a shared-secret method: the server sends a random nonce,
// the client returns an HMAC-SHA256 of the nonce keyed by secret, and the
// server verifies it in constant time. The subject is the ticket's label,
// letting one secret be rotated under a stable name.
func TicketMethod(label string, secret []byte) Method {
	return Method{
		Name: "ticket",
		Assert: func(link *wire.Link, deadline time.Time) error {
			nonce, err := link.ReadLine(deadline)
			if err != nil {
				return fmt.Errorf("auth: ticket: read nonce: %w", err)
			}
			mac := signNonce(secret, nonce)
			if err := link.Printf(deadline, "%s", mac); err != nil {
				return fmt.Errorf("auth: ticket: send mac: %w", err)
			}
			return nil
		},
		Accept: func(link *wire.Link, deadline time.Time) (string, error) {
			nonce, err := randomChallenge()
			if err != nil {
				return "", fmt.Errorf("auth: ticket: generate nonce: %w", err)
			}
			if err := link.Printf(deadline, "%s", nonce); err != nil {
				return "", fmt.Errorf("auth: ticket: send nonce: %w", err)
			}
			got, err := link.ReadLine(deadline)
			if err != nil {
				return "", fmt.Errorf("auth: ticket: read mac: %w", err)
			}
			want := signNonce(secret, nonce)
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				return "", fmt.Errorf("%w: ticket mac mismatch", ErrAccessDenied)
			}
			return label, nil
		},
	}
}

func signNonce(secret []byte, nonce string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateSecret produces a fresh 32-byte shared secret suitable for
// TicketMethod, hex-encoded for storage in a config file.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
