package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Writer serializes artifacts to YAML files. Writes are atomic: content goes
// to a temp file in the target directory first, then renames over the
// destination so a crash never leaves a half-written artifact.
type Writer struct {
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger.With("module", "bridge")}
}

// WriteStory writes a story document to path.
func (w *Writer) WriteStory(path string, doc *StoryYAML) error {
	return w.writeDocument(path, doc)
}

// WriteElaboration writes an elaboration document to path.
func (w *Writer) WriteElaboration(path string, doc *ElaborationYAML) error {
	return w.writeDocument(path, doc)
}

// WritePlan writes a plan document to path.
func (w *Writer) WritePlan(path string, doc *PlanYAML) error {
	return w.writeDocument(path, doc)
}

// WriteVerification writes a verification document to path.
func (w *Writer) WriteVerification(path string, doc *VerificationYAML) error {
	return w.writeDocument(path, doc)
}

// WriteEvidence writes an evidence document to path.
func (w *Writer) WriteEvidence(path string, doc *EvidenceYAML) error {
	return w.writeDocument(path, doc)
}

// WriteStoryIfChanged writes the story only when the serialized content
// differs from what is already on disk. It reports whether a write happened,
// which lets sync passes stay idempotent.
func (w *Writer) WriteStoryIfChanged(path string, doc *StoryYAML) (bool, error) {
	return w.writeIfChanged(path, doc)
}

// WriteElaborationIfChanged is WriteStoryIfChanged for elaborations.
func (w *Writer) WriteElaborationIfChanged(path string, doc *ElaborationYAML) (bool, error) {
	return w.writeIfChanged(path, doc)
}

// WritePlanIfChanged is WriteStoryIfChanged for plans.
func (w *Writer) WritePlanIfChanged(path string, doc *PlanYAML) (bool, error) {
	return w.writeIfChanged(path, doc)
}

// WriteVerificationIfChanged is WriteStoryIfChanged for verifications.
func (w *Writer) WriteVerificationIfChanged(path string, doc *VerificationYAML) (bool, error) {
	return w.writeIfChanged(path, doc)
}

func (w *Writer) writeDocument(path string, doc any) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}

	return w.writeAtomic(path, data)
}

func (w *Writer) writeIfChanged(path string, doc any) (bool, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("failed to serialize %s: %w", path, err)
	}

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		w.logger.Debug("Artifact unchanged, skipping write", "path", path)

		return false, nil
	}

	if err != nil && !errorsIsNotExist(err) {
		return false, fmt.Errorf("failed to read existing %s: %w", path, err)
	}

	if err := w.writeAtomic(path, data); err != nil {
		return false, err
	}

	return true, nil
}

func (w *Writer) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return fmt.Errorf("failed to write temp file for %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	w.logger.Debug("Wrote artifact", "path", path, "bytes", len(data))

	return nil
}

func errorsIsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
