package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cashflowsim/internal/core"
)

// FileSource reads events from a local JSON file holding an array of
// event objects in the same shape the HTTP API accepts.
type FileSource struct {
	path string
}

var _ Source = (*FileSource)(nil)

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Load(ctx context.Context) ([]core.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read events file %s: %w", f.path, err)
	}

	var events []core.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parse events file %s: %w", f.path, err)
	}

	return events, nil
}
