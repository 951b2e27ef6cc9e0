package bridge

import (
	"time"

	"github.com/michael-menard/storyflow/pkg/models"
)

// StoryYAML is the filesystem representation of a story. Surfaces use the
// short-form vocabulary; timestamps are RFC 3339 strings.
type StoryYAML struct {
	Schema       int        `yaml:"schema"                   validate:"required"`
	ID           string     `yaml:"id"                       validate:"required"`
	Feature      string     `yaml:"feature"                  validate:"required"`
	Type         string     `yaml:"type"                     validate:"required"`
	State        string     `yaml:"state"                    validate:"required"`
	Title        string     `yaml:"title"                    validate:"required"`
	Goal         string     `yaml:"goal"`
	Points       *int       `yaml:"points,omitempty"`
	Priority     string     `yaml:"priority,omitempty"`
	BlockedBy    *string    `yaml:"blocked_by,omitempty"`
	DependsOn    []string   `yaml:"depends_on,omitempty"`
	FollowUpFrom *string    `yaml:"follow_up_from,omitempty"`
	Scope        ScopeYAML  `yaml:"scope"`
	NonGoals     []string   `yaml:"non_goals,omitempty"`
	ACs          []ACYAML   `yaml:"acs,omitempty"`
	Risks        []RiskYAML `yaml:"risks,omitempty"`
	CreatedAt    string     `yaml:"created_at"`
	UpdatedAt    string     `yaml:"updated_at"`
}

// ScopeYAML bounds packages and surfaces in the YAML short-form vocabulary.
type ScopeYAML struct {
	Packages []string `yaml:"packages"`
	Surfaces []string `yaml:"surfaces"`
}

// ACYAML is one acceptance criterion in YAML form.
type ACYAML struct {
	ID          string `yaml:"id"          validate:"required"`
	Description string `yaml:"description" validate:"required"`
	Testable    bool   `yaml:"testable"`
	Automated   bool   `yaml:"automated"`
}

// RiskYAML is one risk entry in YAML form.
type RiskYAML struct {
	ID          string  `yaml:"id"          validate:"required"`
	Description string  `yaml:"description" validate:"required"`
	Severity    string  `yaml:"severity"    validate:"oneof=high medium low"`
	Mitigation  *string `yaml:"mitigation,omitempty"`
}

// ElaborationYAML is the filesystem representation of an elaboration.
type ElaborationYAML struct {
	Schema         int            `yaml:"schema"   validate:"required"`
	StoryID        string         `yaml:"story_id" validate:"required"`
	Verdict        string         `yaml:"verdict"`
	ReadinessScore *int           `yaml:"readiness_score,omitempty"`
	Gaps           []GapYAML      `yaml:"gaps,omitempty"`
	Notes          map[string]any `yaml:"notes,omitempty"`
	UpdatedAt      string         `yaml:"updated_at"`
}

// GapYAML is one elaboration gap.
type GapYAML struct {
	ID          string `yaml:"id"          validate:"required"`
	Description string `yaml:"description" validate:"required"`
	Category    string `yaml:"category"`
	Blocking    bool   `yaml:"blocking"`
}

// PlanYAML is the filesystem representation of an implementation plan.
type PlanYAML struct {
	Schema    int         `yaml:"schema"   validate:"required"`
	StoryID   string      `yaml:"story_id" validate:"required"`
	Chunks    []ChunkYAML `yaml:"chunks,omitempty"`
	UpdatedAt string      `yaml:"updated_at"`
}

// ChunkYAML is one plan chunk. Slice uses the short-form surface vocabulary.
type ChunkYAML struct {
	ID          string   `yaml:"id"    validate:"required"`
	Title       string   `yaml:"title" validate:"required"`
	Slice       string   `yaml:"slice,omitempty"`
	Files       []string `yaml:"files,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// VerificationYAML is the filesystem representation of a verification run.
type VerificationYAML struct {
	Schema    int            `yaml:"schema"   validate:"required"`
	StoryID   string         `yaml:"story_id" validate:"required"`
	Type      string         `yaml:"type"     validate:"oneof=qa_verify review uat"`
	Verdict   string         `yaml:"verdict"`
	Issues    []IssueYAML    `yaml:"issues,omitempty"`
	Details   map[string]any `yaml:"details,omitempty"`
	UpdatedAt string         `yaml:"updated_at"`
}

// IssueYAML is one verification issue.
type IssueYAML struct {
	ID          string `yaml:"id"          validate:"required"`
	Description string `yaml:"description" validate:"required"`
	Severity    string `yaml:"severity"    validate:"oneof=critical high medium low"`
}

// EvidenceYAML is the filesystem representation of captured evidence.
type EvidenceYAML struct {
	Schema  int                `yaml:"schema"   validate:"required"`
	StoryID string             `yaml:"story_id" validate:"required"`
	Items   []EvidenceItemYAML `yaml:"items,omitempty"`
}

// EvidenceItemYAML is one evidence entry.
type EvidenceItemYAML struct {
	Type        string `yaml:"type" validate:"required"`
	Path        string `yaml:"path" validate:"required"`
	Timestamp   string `yaml:"timestamp"`
	Description string `yaml:"description,omitempty"`
}

// ToStoryArtifact converts a YAML story to the database representation,
// normalizing surfaces.
func (s *StoryYAML) ToStoryArtifact() (*models.StoryArtifact, error) {
	surfaces, err := NormalizeSurfaces(s.Scope.Surfaces)
	if err != nil {
		return nil, err
	}

	createdAt, err := parseYAMLTime(s.CreatedAt)
	if err != nil {
		return nil, err
	}

	updatedAt, err := parseYAMLTime(s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	priority := models.PriorityLevel(s.Priority)
	if s.Priority == "" {
		priority = models.PriorityMedium
	}

	acs := make([]models.AcceptanceCriterion, 0, len(s.ACs))
	for _, ac := range s.ACs {
		acs = append(acs, models.AcceptanceCriterion(ac))
	}

	risks := make([]models.Risk, 0, len(s.Risks))
	for _, r := range s.Risks {
		risks = append(risks, models.Risk(r))
	}

	return &models.StoryArtifact{
		Schema:       s.Schema,
		ID:           s.ID,
		Feature:      s.Feature,
		Type:         models.StoryType(s.Type),
		State:        models.StoryState(s.State),
		Title:        s.Title,
		Goal:         s.Goal,
		Points:       s.Points,
		Priority:     priority,
		BlockedBy:    s.BlockedBy,
		DependsOn:    s.DependsOn,
		FollowUpFrom: s.FollowUpFrom,
		Scope: models.StoryScope{
			Packages: s.Scope.Packages,
			Surfaces: surfaces,
		},
		NonGoals:  s.NonGoals,
		ACs:       acs,
		Risks:     risks,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// FromStoryArtifact converts a database story to the YAML representation,
// denormalizing surfaces.
func FromStoryArtifact(story *models.StoryArtifact) (*StoryYAML, error) {
	surfaces, err := DenormalizeSurfaces(story.Scope.Surfaces)
	if err != nil {
		return nil, err
	}

	acs := make([]ACYAML, 0, len(story.ACs))
	for _, ac := range story.ACs {
		acs = append(acs, ACYAML(ac))
	}

	risks := make([]RiskYAML, 0, len(story.Risks))
	for _, r := range story.Risks {
		risks = append(risks, RiskYAML(r))
	}

	return &StoryYAML{
		Schema:       story.Schema,
		ID:           story.ID,
		Feature:      story.Feature,
		Type:         string(story.Type),
		State:        string(story.State),
		Title:        story.Title,
		Goal:         story.Goal,
		Points:       story.Points,
		Priority:     string(story.Priority),
		BlockedBy:    story.BlockedBy,
		DependsOn:    story.DependsOn,
		FollowUpFrom: story.FollowUpFrom,
		Scope: ScopeYAML{
			Packages: story.Scope.Packages,
			Surfaces: surfaces,
		},
		NonGoals:  story.NonGoals,
		ACs:       acs,
		Risks:     risks,
		CreatedAt: story.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: story.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func parseYAMLTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.UTC(), nil
}
