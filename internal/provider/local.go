package provider

import (
	"context"
	"time"

	"github.com/agimpel/vcs-automat-core/internal/store"
)

// localCreditStore is the persistence boundary LocalProvider depends on,
// satisfied by internal/store.Store.
type localCreditStore interface {
	LocalCreditFor(ctx context.Context, rfid string) (*store.LocalCredit, error)
	IncrementLocalUsage(ctx context.Context, rfid string) error
}

// LocalProvider is the lowest-priority fallback recovered from the original
// implementation's local users table (original_source/connectors/database.py):
// a fixed set of known cards, each always granted a configured standard
// credit amount rather than a live balance, with reports merely incrementing
// a usage counter for bookkeeping (§6: "local provider fallback").
type LocalProvider struct {
	tag             string
	standardCredits uint32
	knownCards      map[string]bool
	store           localCreditStore
}

// NewLocalProvider builds a LocalProvider. knownCards lists every card id
// granted standard credits by this fallback; cards outside the list are
// reported unknown, exactly like the original's membership-only check.
func NewLocalProvider(tag string, standardCredits uint32, knownCards []string, store localCreditStore) *LocalProvider {
	known := make(map[string]bool, len(knownCards))
	for _, c := range knownCards {
		known[c] = true
	}
	return &LocalProvider{
		tag:             tag,
		standardCredits: standardCredits,
		knownCards:      known,
		store:           store,
	}
}

func (l *LocalProvider) Tag() string { return l.tag }

// Auth grants standardCredits to any card present in knownCards, mirroring
// database.py's auth: membership alone determines recognition, the credit
// amount is fixed rather than tracked per card.
func (l *LocalProvider) Auth(ctx context.Context, cardID string) (*User, error) {
	if !l.knownCards[cardID] {
		return nil, nil
	}
	if _, err := l.store.LocalCreditFor(ctx, cardID); err != nil {
		return nil, err
	}
	return &User{
		CardID:      cardID,
		Credits:     l.standardCredits,
		ExternalID:  cardID,
		DisplayName: "local entry",
	}, nil
}

// Report increments the card's local usage counter; the original's
// equivalent update is bookkeeping only and never fails the vend.
func (l *LocalProvider) Report(ctx context.Context, cardID string, _ uint16) (bool, error) {
	if !l.knownCards[cardID] {
		return false, ErrProviderNotFound
	}
	if err := l.store.IncrementLocalUsage(ctx, cardID); err != nil {
		return false, err
	}
	return true, nil
}

// Info reports the fallback's static credit policy; it has no reset cycle
// of its own, so LastReset/NextReset mark the zero time.
func (l *LocalProvider) Info(ctx context.Context) (*Info, error) {
	return &Info{
		StandardCredits: l.standardCredits,
		ResetInterval:   0,
		LastReset:       time.Time{},
		NextReset:       time.Time{},
	}, nil
}
