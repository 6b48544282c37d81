package session

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/conversational-translator/internal/jsonx"
)

// Exporter writes ended and expired sessions to per-session JSON files.
// Exports are append-only archival documents, not a queryable store.
type Exporter struct {
	dir    string
	logger *zap.Logger
}

// NewExporter creates the export directory if needed.
func NewExporter(dir string, logger *zap.Logger) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory %s: %w", dir, err)
	}
	return &Exporter{dir: dir, logger: logger.Named("export")}, nil
}

// Write serializes the export document and returns the file path.
func (e *Exporter) Write(export *Export) (string, error) {
	name := fmt.Sprintf("conversation_%s_%s.json",
		export.Metadata.SessionID,
		export.ExportTimestamp.Format("20060102_150405"))
	path := filepath.Join(e.dir, name)

	data, err := jsonx.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session export: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write session export: %w", err)
	}

	e.logger.Debug("wrote session export",
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return path, nil
}
