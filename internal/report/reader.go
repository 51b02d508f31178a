package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNotGenerated means no report document exists for the requested
// (user, year, month).
var ErrNotGenerated = errors.New("report not generated")

// Load reads a previously persisted report document.
func Load(root, userID string, year int, month time.Month) (*Document, error) {
	path := DocumentPath(root, userID, year, month)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Load: user %s %d-%02d: %w", userID, year, int(month), ErrNotGenerated)
		}
		return nil, fmt.Errorf("Load: read %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("Load: decode %s: %w", path, err)
	}
	return &doc, nil
}
