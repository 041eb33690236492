package amqp

import (
	"encoding/json"
	"time"

	"cashflowsim/internal/simulation"
)

// SimulationJobMessage carries a full simulation request to the worker.
// The request is embedded rather than referenced because jobs have no
// identity outside the queue.
type SimulationJobMessage struct {
	ID        string             `json:"id"`
	Request   simulation.Request `json:"request"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewSimulationJobMessage creates a job message for the given request.
// The ID is the request fingerprint, so re-submitting the same request
// produces the same job identity.
func NewSimulationJobMessage(req simulation.Request) *SimulationJobMessage {
	return &SimulationJobMessage{
		ID:        req.Fingerprint(),
		Request:   req,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SimulationJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SimulationJobMessageFromJSON creates a job message from JSON bytes
func SimulationJobMessageFromJSON(data []byte) (*SimulationJobMessage, error) {
	var msg SimulationJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SimulationResultMessage carries a completed simulation back from the
// worker. Error is set (and Response empty) when the job failed.
type SimulationResultMessage struct {
	ID        string              `json:"id"`
	Response  simulation.Response `json:"response"`
	Error     string              `json:"error,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// NewSimulationResultMessage creates a result message for a successful run.
func NewSimulationResultMessage(id string, resp simulation.Response) *SimulationResultMessage {
	return &SimulationResultMessage{
		ID:        id,
		Response:  resp,
		Timestamp: time.Now(),
	}
}

// NewSimulationErrorMessage creates a result message for a failed run.
func NewSimulationErrorMessage(id string, err error) *SimulationResultMessage {
	return &SimulationResultMessage{
		ID:        id,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SimulationResultMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SimulationResultMessageFromJSON creates a result message from JSON bytes
func SimulationResultMessageFromJSON(data []byte) (*SimulationResultMessage, error) {
	var msg SimulationResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
