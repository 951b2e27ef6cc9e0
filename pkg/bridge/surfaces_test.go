package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michael-menard/storyflow/pkg/models"
)

func TestNormalizeSurface(t *testing.T) {
	cases := map[string]models.SurfaceType{
		"fe":            models.SurfaceFrontend,
		"be":            models.SurfaceBackend,
		"infra":         models.SurfaceInfrastructure,
		"db":            models.SurfaceDatabase,
		"docs":          models.SurfaceDocumentation,
		"frontend":      models.SurfaceFrontend,
		"documentation": models.SurfaceDocumentation,
	}

	for input, want := range cases {
		got, err := NormalizeSurface(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNormalizeSurfaceUnknown(t *testing.T) {
	_, err := NormalizeSurface("mobile")
	assert.Error(t, err)
}

func TestDenormalizeSurfaceUnknown(t *testing.T) {
	_, err := DenormalizeSurface(models.SurfaceType("mobile"))
	assert.Error(t, err)
}

func TestSurfaceRoundTrip(t *testing.T) {
	shorts := []string{"fe", "be", "infra", "db", "docs"}

	normalized, err := NormalizeSurfaces(shorts)
	require.NoError(t, err)

	back, err := DenormalizeSurfaces(normalized)
	require.NoError(t, err)

	assert.Equal(t, shorts, back)
}
