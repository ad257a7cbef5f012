package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// statusView is the GET /status response shape.
type statusView struct {
	SessionActive bool   `json:"session_active"`
	CardID        string `json:"card_id,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// sessionView is the GET /sessions/current response shape.
type sessionView struct {
	CardID           string `json:"card_id"`
	CreditsRemaining uint32 `json:"credits_remaining"`
	Provider         string `json:"provider"`
	StartedAt        string `json:"started_at"`
}

// providerInfoView is the GET /provider/{tag}/info response shape. The
// daemon marshals provider.Info with its default json tags: time.Time
// fields render as RFC 3339 strings, time.Duration as nanoseconds.
type providerInfoView struct {
	LastReset       time.Time `json:"LastReset"`
	NextReset       time.Time `json:"NextReset"`
	StandardCredits uint32    `json:"StandardCredits"`
	ResetInterval   int64     `json:"ResetInterval"`
}

func formatStatus(s *statusView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(s)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Session Active:\t%t\n", s.SessionActive)
		if s.SessionActive {
			fmt.Fprintf(w, "Card ID:\t%s\n", s.CardID)
			fmt.Fprintf(w, "Provider:\t%s\n", s.Provider)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSession(s *sessionView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(s)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Card ID:\t%s\n", s.CardID)
		fmt.Fprintf(w, "Credits Remaining:\t%d\n", s.CreditsRemaining)
		fmt.Fprintf(w, "Provider:\t%s\n", s.Provider)
		fmt.Fprintf(w, "Started At:\t%s\n", s.StartedAt)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatProviderInfo(tag string, info *providerInfoView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(info)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Provider:\t%s\n", tag)
		fmt.Fprintf(w, "Standard Credits:\t%d\n", info.StandardCredits)
		fmt.Fprintf(w, "Reset Interval:\t%s\n", time.Duration(info.ResetInterval))
		fmt.Fprintf(w, "Last Reset:\t%s\n", info.LastReset.Format(time.RFC3339))
		fmt.Fprintf(w, "Next Reset:\t%s\n", info.NextReset.Format(time.RFC3339))
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}
