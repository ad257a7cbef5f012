package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrProviderNotFound is returned when Report names a tag not present in the chain.
var ErrProviderNotFound = errors.New("provider: tag not found in chain")

// Chain is an ordered list of identity providers (§4.3). For a card id, it
// authenticates against every provider and picks the response with the
// highest reported credit; ties are broken by chain order (§4.2).
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a Chain preserving providers' configured order, which
// also doubles as the tie-break order.
func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, logger: logger}
}

type authResult struct {
	index int
	tag   string
	user  *User
}

// Auth fans out to every configured provider concurrently and returns the
// winning user and its provider's tag. A nil user with a nil error means no
// provider recognised the card (§4.2: "If none return a user, the card is
// unknown").
func (c *Chain) Auth(ctx context.Context, cardID string) (*User, string, error) {
	results := make([]authResult, len(c.providers))
	var wg sync.WaitGroup
	for i, p := range c.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			user, err := p.Auth(ctx, cardID)
			if err != nil {
				c.logger.Warn("provider auth failed", "provider", p.Tag(), "error", err)
				return
			}
			results[i] = authResult{index: i, tag: p.Tag(), user: user}
		}(i, p)
	}
	wg.Wait()

	var winner *authResult
	for i := range results {
		r := &results[i]
		if r.user == nil {
			continue
		}
		if winner == nil || r.user.Credits > winner.user.Credits {
			winner = r
		}
	}
	if winner == nil {
		return nil, "", nil
	}
	return winner.user, winner.tag, nil
}

// Report invokes the named provider's Report method (§4.4).
func (c *Chain) Report(ctx context.Context, tag, cardID string, slot uint16) (bool, error) {
	for _, p := range c.providers {
		if p.Tag() == tag {
			return p.Report(ctx, cardID, slot)
		}
	}
	return false, fmt.Errorf("%w: %s", ErrProviderNotFound, tag)
}

// Info returns the named provider's self-reported metadata, used by the
// admin API's provider-info endpoint.
func (c *Chain) Info(ctx context.Context, tag string) (*Info, error) {
	for _, p := range c.providers {
		if p.Tag() == tag {
			return p.Info(ctx)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, tag)
}
