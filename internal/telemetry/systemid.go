package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/mediacore/internal/privacy"
)

const systemIDFile = ".system_id"

// LoadOrCreateSystemID reads the identifier stored in dir, creating and
// saving a new one when none exists or the stored one is malformed.
func LoadOrCreateSystemID(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, systemIDFile)

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("failed to save system ID: %w", err)
	}
	return id, nil
}
