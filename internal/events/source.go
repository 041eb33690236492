package events

import (
	"context"

	"cashflowsim/internal/core"
)

// Source loads recurring cashflow events from an external store. Sources
// do not validate business rules beyond what is needed to build an Event;
// the simulation rejects malformed events at build time.
type Source interface {
	Load(ctx context.Context) ([]core.Event, error)
}
