// Package checkin issues and verifies the signed tokens attendees present
// at the door. A token binds an account to an event; it carries no money
// and proves nothing beyond who bought or registered.
package checkin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/event-escrow/internal/model"
)

// Claims is the signed body of a token.
type Claims struct {
	EventID  string    `json:"e"`
	Account  string    `json:"a"`
	IssuedAt time.Time `json:"t"`
}

// Signer issues HMAC-SHA256 tokens under a single secret.
type Signer struct {
	secret []byte
}

// NewSigner returns a Signer keyed by secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

var enc = base64.RawURLEncoding

// Issue returns a token for account at eventID.
func (s *Signer) Issue(eventID, account string, at time.Time) string {
	body, _ := json.Marshal(Claims{EventID: eventID, Account: account, IssuedAt: at.UTC()})
	payload := enc.EncodeToString(body)
	return payload + "." + enc.EncodeToString(s.sign(payload))
}

// Verify checks the signature and returns the claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || payload == "" || sig == "" {
		return nil, fmt.Errorf("%w: malformed", model.ErrInvalidToken)
	}
	got, err := enc.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", model.ErrInvalidToken)
	}
	if !hmac.Equal(got, s.sign(payload)) {
		return nil, fmt.Errorf("%w: bad signature", model.ErrInvalidToken)
	}
	body, err := enc.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload", model.ErrInvalidToken)
	}
	var c Claims
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", model.ErrInvalidToken)
	}
	if c.EventID == "" || c.Account == "" {
		return nil, fmt.Errorf("%w: incomplete claims", model.ErrInvalidToken)
	}
	return &c, nil
}

func (s *Signer) sign(payload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
