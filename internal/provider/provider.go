// Package provider implements the identity-provider chain: the fixed
// HMAC-signed HTTPS wire protocol (§6), a local fallback provider backed
// by a local-credit table, and the tie-breaking fan-out logic in Chain
// (§4.2, §4.3).
package provider

import (
	"context"
	"time"
)

// User is the authenticated identity a provider returns for a card (§3).
type User struct {
	CardID      string
	Credits     uint32
	ExternalID  string
	DisplayName string
}

// Info is a provider's self-reported credit-cycle metadata (§6: info endpoint).
type Info struct {
	LastReset       time.Time
	NextReset       time.Time
	StandardCredits uint32
	ResetInterval   time.Duration
}

// Provider is a back-end that can identify a card and record a vend (§4.3).
type Provider interface {
	Tag() string
	Auth(ctx context.Context, cardID string) (*User, error)
	Report(ctx context.Context, cardID string, slot uint16) (bool, error)
	Info(ctx context.Context) (*Info, error)
}
