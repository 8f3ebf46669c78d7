// Package auth turns bearer credentials into user identities. The hub
// consumes only the Verifier interface; deployments swap in their own
// identity provider.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
)

// ErrAuthenticationFailed is fatal to the connection attempt: the
// transport is refused before any state is mutated.
var ErrAuthenticationFailed = errors.New("authentication failed")

type Verifier interface {
	Verify(ctx context.Context, token string) (domain.UserID, error)
}

// HMACVerifier accepts `<userID>:<hex hmac-sha256(userID)>` tokens signed
// with the shared secret. Enough for a self-contained deployment; anything
// richer implements Verifier instead.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, token string) (domain.UserID, error) {
	user, sig, ok := strings.Cut(token, ":")
	if !ok || user == "" {
		return "", fmt.Errorf("%w: malformed token", ErrAuthenticationFailed)
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return "", fmt.Errorf("%w: malformed signature", ErrAuthenticationFailed)
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(user))
	if !hmac.Equal(want, mac.Sum(nil)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrAuthenticationFailed)
	}
	return domain.UserID(user), nil
}

// Token mints a credential for the user, used by tooling and tests.
func (v *HMACVerifier) Token(user domain.UserID) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(user))
	return string(user) + ":" + hex.EncodeToString(mac.Sum(nil))
}
