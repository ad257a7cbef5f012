package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// timestampSkew is the tolerated clock drift between client and server (§6, §8).
const timestampSkew = 30 * time.Second

// minNonceLength is the minimum accepted nonce length (§6: "nonce (>=20 chars, opaque)").
const minNonceLength = 20

// ErrVerification covers every signature/timestamp/nonce check failure;
// callers treat it identically to an unknown card or failed report (§7).
var ErrVerification = errors.New("provider: verification failed")

// NonceStore is the persistence boundary signing.go depends on; satisfied
// by internal/store.Store.
type NonceStore interface {
	CheckAndInsertNonce(ctx context.Context, nonce string, timestamp int64) (bool, error)
}

// sign computes the hex-encoded HMAC-SHA-512 of body under secret, the
// value carried in the X-SIGNATURE header (§6).
func sign(secret, body []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks that signatureHex matches the HMAC-SHA-512 of body
// under secret, using constant-time comparison.
func verifySignature(secret, body []byte, signatureHex string) bool {
	want, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}

// verifyMessage runs the mandatory checks on an inbound signed message
// (§6): signature match, timestamp within the skew window, and an unseen
// nonce. Every failure wraps ErrVerification; the wrapped message names the
// failed check for logs, and callers match only ErrVerification, collapsing
// every verification failure to the same "treat as unknown/failed" outcome
// (§7).
func verifyMessage(ctx context.Context, secret, body []byte, signatureHex string, timestamp int64, nonce string, nonces NonceStore) error {
	if !verifySignature(secret, body, signatureHex) {
		return fmt.Errorf("%w: signature mismatch", ErrVerification)
	}
	if len(nonce) < minNonceLength {
		return fmt.Errorf("%w: nonce too short", ErrVerification)
	}

	skew := time.Since(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > timestampSkew {
		return fmt.Errorf("%w: timestamp skew %s exceeds %s", ErrVerification, skew, timestampSkew)
	}

	ok, err := nonces.CheckAndInsertNonce(ctx, nonce, timestamp)
	if err != nil {
		return fmt.Errorf("%w: nonce store error: %v", ErrVerification, err)
	}
	if !ok {
		return fmt.Errorf("%w: nonce replay", ErrVerification)
	}
	return nil
}
