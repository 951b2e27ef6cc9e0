package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/michael-menard/storyflow/pkg/models"
)

// ErrArtifactFileNotFound indicates the requested YAML artifact does not
// exist on the filesystem.
var ErrArtifactFileNotFound = errors.New("artifact file not found")

// ReadResult carries a parsed document plus non-fatal findings. Warnings do
// not prevent the document from being used; Violations do.
type ReadResult[T any] struct {
	Document *T
	Path     string
	Warnings []string
}

// Reader parses and validates YAML artifacts from the filesystem.
type Reader struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewReader creates a Reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "bridge"),
	}
}

// ReadStory reads and validates a story YAML file. Unknown surface values are
// a hard error; the surface vocabulary is closed in both directions.
func (r *Reader) ReadStory(path string) (*ReadResult[StoryYAML], error) {
	doc, err := readDocument[StoryYAML](r, path)
	if err != nil {
		return nil, err
	}

	warnings := r.storyWarnings(doc)

	for _, surface := range doc.Scope.Surfaces {
		if _, err := NormalizeSurface(surface); err != nil {
			return nil, &models.ValidationError{Violations: []models.Violation{{
				Field:   "scope.surfaces",
				Message: err.Error(),
			}}}
		}
	}

	if !models.StoryState(doc.State).IsValid() {
		return nil, &models.ValidationError{Violations: []models.Violation{{
			Field:   "state",
			Message: fmt.Sprintf("unknown story state %q", doc.State),
		}}}
	}

	return &ReadResult[StoryYAML]{Document: doc, Path: path, Warnings: warnings}, nil
}

// ReadElaboration reads and validates an elaboration YAML file.
func (r *Reader) ReadElaboration(path string) (*ReadResult[ElaborationYAML], error) {
	doc, err := readDocument[ElaborationYAML](r, path)
	if err != nil {
		return nil, err
	}

	var warnings []string

	if doc.ReadinessScore != nil && (*doc.ReadinessScore < 0 || *doc.ReadinessScore > 100) {
		return nil, &models.ValidationError{Violations: []models.Violation{{
			Field:   "readiness_score",
			Message: fmt.Sprintf("readiness score %d outside 0..100", *doc.ReadinessScore),
		}}}
	}

	if doc.Verdict == "" {
		warnings = append(warnings, "elaboration has no verdict")
	}

	return &ReadResult[ElaborationYAML]{Document: doc, Path: path, Warnings: warnings}, nil
}

// ReadPlan reads and validates an implementation plan YAML file.
func (r *Reader) ReadPlan(path string) (*ReadResult[PlanYAML], error) {
	doc, err := readDocument[PlanYAML](r, path)
	if err != nil {
		return nil, err
	}

	var warnings []string

	if len(doc.Chunks) == 0 {
		warnings = append(warnings, "plan has no chunks")
	}

	chunkIDs := make(map[string]struct{}, len(doc.Chunks))
	for _, chunk := range doc.Chunks {
		if _, dup := chunkIDs[chunk.ID]; dup {
			return nil, &models.ValidationError{Violations: []models.Violation{{
				Field:   "chunks",
				Message: fmt.Sprintf("duplicate chunk id %q", chunk.ID),
			}}}
		}

		chunkIDs[chunk.ID] = struct{}{}
	}

	for _, chunk := range doc.Chunks {
		for _, dep := range chunk.DependsOn {
			if _, ok := chunkIDs[dep]; !ok {
				warnings = append(warnings, fmt.Sprintf("chunk %s depends on unknown chunk %s", chunk.ID, dep))
			}
		}
	}

	return &ReadResult[PlanYAML]{Document: doc, Path: path, Warnings: warnings}, nil
}

// ReadVerification reads and validates a verification YAML file.
func (r *Reader) ReadVerification(path string) (*ReadResult[VerificationYAML], error) {
	doc, err := readDocument[VerificationYAML](r, path)
	if err != nil {
		return nil, err
	}

	return &ReadResult[VerificationYAML]{Document: doc, Path: path}, nil
}

// ReadEvidence reads and validates an evidence YAML file.
func (r *Reader) ReadEvidence(path string) (*ReadResult[EvidenceYAML], error) {
	doc, err := readDocument[EvidenceYAML](r, path)
	if err != nil {
		return nil, err
	}

	return &ReadResult[EvidenceYAML]{Document: doc, Path: path}, nil
}

func (r *Reader) storyWarnings(doc *StoryYAML) []string {
	var warnings []string

	if len(doc.ACs) == 0 {
		warnings = append(warnings, "story has no acceptance criteria")
	}

	if doc.Goal == "" {
		warnings = append(warnings, "story has no goal")
	}

	if _, ok := InferFeatureFromStoryID(doc.ID); !ok {
		warnings = append(warnings, fmt.Sprintf("story id %s has no recognized feature prefix", doc.ID))
	}

	return warnings
}

func readDocument[T any](r *Reader, path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactFileNotFound, path)
		}

		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc T

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := r.validate.Struct(&doc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			violations := make([]models.Violation, 0, len(verrs))
			for _, fe := range verrs {
				violations = append(violations, models.Violation{
					Field:   fe.Namespace(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}

			return nil, &models.ValidationError{Violations: violations}
		}

		return nil, fmt.Errorf("failed to validate %s: %w", path, err)
	}

	return &doc, nil
}
