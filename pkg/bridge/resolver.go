// Package bridge keeps the filesystem YAML artifact convention and the
// relational store consistent: path resolution, surface normalization,
// schema-validated reads, atomic writes, and directional sync with conflict
// resolution.
package bridge

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// FileArtifact identifies a YAML artifact file within a story directory.
type FileArtifact string

const (
	FileStory        FileArtifact = "story"
	FileElaboration  FileArtifact = "elaboration"
	FilePlan         FileArtifact = "plan"
	FileProof        FileArtifact = "proof"
	FileVerification FileArtifact = "verification"
	FileContext      FileArtifact = "context"
	FileTokens       FileArtifact = "tokens"
	FileCheckpoint   FileArtifact = "CHECKPOINT"
	FileScope        FileArtifact = "SCOPE"
	FileEvidence     FileArtifact = "EVIDENCE"
	FileReview       FileArtifact = "REVIEW"
)

// DefaultPlansRoot is where story artifact trees live, relative to the
// workspace root.
const DefaultPlansRoot = "plans/future"

// DefaultFeatureBucket receives stories whose feature cannot be inferred.
const DefaultFeatureBucket = "uncategorized"

// featurePrefixes maps story ID prefixes to feature directory names. The
// convention is a closed set; anything else lands in the default bucket.
var featurePrefixes = map[string]string{
	"GAL":  "gallery",
	"SET":  "sets",
	"WISH": "wishlist",
	"MOC":  "moc-instructions",
	"PROF": "profile",
	"UPL":  "uploads",
	"FLOW": "workflow",
}

// PathResolver computes artifact file paths under the
// plans/future/{feature}/{stage}/{storyId}/ convention.
type PathResolver struct {
	workspaceRoot string
	plansRoot     string
	logger        *slog.Logger
}

// NewPathResolver creates a resolver rooted at the given workspace.
func NewPathResolver(workspaceRoot string, logger *slog.Logger) *PathResolver {
	return &PathResolver{
		workspaceRoot: workspaceRoot,
		plansRoot:     DefaultPlansRoot,
		logger:        logger,
	}
}

// StoryDir returns the directory holding all artifacts of a story.
func (r *PathResolver) StoryDir(feature, stage, storyID string) string {
	return filepath.Join(r.workspaceRoot, r.plansRoot, feature, stage, storyID)
}

// ArtifactPath returns the expected path of one artifact file.
func (r *PathResolver) ArtifactPath(feature, stage, storyID string, artifact FileArtifact) string {
	return filepath.Join(r.StoryDir(feature, stage, storyID), string(artifact)+".yaml")
}

// InferFeature derives the feature directory from the story ID prefix. When
// inference fails it logs and returns the default bucket.
func (r *PathResolver) InferFeature(storyID string) string {
	feature, ok := InferFeatureFromStoryID(storyID)
	if !ok {
		r.logger.Warn("cannot infer feature from story ID, using default bucket",
			"story_id", storyID,
			"bucket", DefaultFeatureBucket)

		return DefaultFeatureBucket
	}

	return feature
}

// InferFeatureFromStoryID derives the feature name from a story ID of the
// form PREFIX-NNN. The second return is false when the prefix is unknown.
func InferFeatureFromStoryID(storyID string) (string, bool) {
	prefix, _, found := strings.Cut(storyID, "-")
	if !found {
		return "", false
	}

	feature, ok := featurePrefixes[strings.ToUpper(prefix)]
	if !ok {
		return "", false
	}

	return feature, true
}
