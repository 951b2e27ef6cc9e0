package bridge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactPath(t *testing.T) {
	resolver := NewPathResolver("/workspace", testLogger())

	path := resolver.ArtifactPath("gallery", "in-progress", "GAL-001", FileElaboration)
	assert.Equal(t, filepath.Join("/workspace", "plans", "future", "gallery", "in-progress", "GAL-001", "elaboration.yaml"), path)
}

func TestInferFeatureFromStoryID(t *testing.T) {
	cases := map[string]string{
		"GAL-001":  "gallery",
		"gal-001":  "gallery",
		"WISH-042": "wishlist",
		"MOC-007":  "moc-instructions",
		"FLOW-003": "workflow",
	}

	for storyID, want := range cases {
		feature, ok := InferFeatureFromStoryID(storyID)
		assert.True(t, ok, storyID)
		assert.Equal(t, want, feature)
	}
}

func TestInferFeatureUnknownPrefixUsesDefaultBucket(t *testing.T) {
	resolver := NewPathResolver("/workspace", testLogger())

	assert.Equal(t, DefaultFeatureBucket, resolver.InferFeature("XYZ-001"))
	assert.Equal(t, DefaultFeatureBucket, resolver.InferFeature("noprefix"))
}
