package simulation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"cashflowsim/internal/core"
)

// Request is the input for one simulation run. All monetary fields are
// integer cents.
type Request struct {
	Events         []core.Event `json:"events"`
	InitialBalance int64        `json:"initial_balance"`
	SimStart       core.Date    `json:"sim_start"`
	SimEnd         core.Date    `json:"sim_end"`
}

// Window returns the simulation window described by the request.
func (r Request) Window() core.Window {
	return core.Window{Begin: r.SimStart, End: r.SimEnd}
}

// Validate rejects malformed requests before any expansion work happens.
func (r Request) Validate() error {
	if err := r.Window().Validate(); err != nil {
		return err
	}
	for _, e := range r.Events {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint derives a stable identity for the request from its canonical
// JSON encoding. Identical inputs always fingerprint identically, which is
// what makes serving-layer result caching safe: the engine itself is a
// pure function of the request.
func (r Request) Fingerprint() string {
	payload, err := json.Marshal(r)
	if err != nil {
		// Request is marshallable by construction; treat failure as an
		// uncacheable one-off.
		return fmt.Sprintf("unfingerprintable:%p", &r)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Response is the ordered ledger produced by a run.
type Response struct {
	Cashflows []LedgerEntry `json:"cashflows"`
}

// FinalBalance returns the running balance after the last entry.
func (r Response) FinalBalance() int64 {
	if len(r.Cashflows) == 0 {
		return 0
	}
	return r.Cashflows[len(r.Cashflows)-1].Balance
}

// Run executes a complete simulation: validation, expansion, accumulation.
func Run(req Request) (Response, error) {
	entries, err := Build(req.Events, req.Window(), req.InitialBalance)
	if err != nil {
		return Response{}, fmt.Errorf("build ledger: %w", err)
	}
	return Response{Cashflows: entries}, nil
}
