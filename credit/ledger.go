// Package credit implements the reserve -> settle-or-refund protocol that
// brackets every paid model call. A reservation is taken before the call,
// settled to actual token usage on success, and refunded when the call failed
// before any tokens could have been consumed. When usage cannot be determined
// synchronously, a cost-verification follow-up is enqueued instead of leaving
// the reservation dangling.
package credit

import (
	"context"
)

type (
	Kind string

	Reservation interface {
		ID() string
		// ReservedUnits is the provisional hold taken at Reserve time.
		ReservedUnits() int64

		// Settle adjusts the hold to actual usage. It must complete even when
		// the caller's context is already cancelled.
		Settle(ctx context.Context, actualUnits int64) error
		// Refund releases the full hold.
		Refund(ctx context.Context) error
		// EnqueueVerification records that actual cost is unknown and must be
		// resolved asynchronously.
		EnqueueVerification(ctx context.Context) error
	}

	Ledger interface {
		Reserve(ctx context.Context, workspaceID string, kind Kind, estimatedUnits int64) (Reservation, error)
	}
)

const (
	KindEmbedding  Kind = "embedding"
	KindCompletion Kind = "completion"
)

// EstimateTextUnits sizes a reservation from raw text before the provider has
// reported real token counts. Four bytes per token is the conventional upper
// bound for the models in use.
func EstimateTextUnits(text string) int64 {
	units := int64(len(text))/4 + 1
	return units
}
