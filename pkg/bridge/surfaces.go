package bridge

import (
	"fmt"

	"github.com/michael-menard/storyflow/pkg/models"
)

// The filesystem convention uses short-form surface names; the database
// schema uses the canonical long form. The mapping is a closed bijection,
// not a free-text transformation.
var surfaceShortToLong = map[string]models.SurfaceType{
	"fe":    models.SurfaceFrontend,
	"be":    models.SurfaceBackend,
	"infra": models.SurfaceInfrastructure,
	"db":    models.SurfaceDatabase,
	"docs":  models.SurfaceDocumentation,
}

var surfaceLongToShort = func() map[models.SurfaceType]string {
	m := make(map[models.SurfaceType]string, len(surfaceShortToLong))
	for short, long := range surfaceShortToLong {
		m[long] = short
	}

	return m
}()

// NormalizeSurface translates one short-form surface to its canonical form.
// Long-form input passes through unchanged so already-normalized documents
// stay valid.
func NormalizeSurface(surface string) (models.SurfaceType, error) {
	if long, ok := surfaceShortToLong[surface]; ok {
		return long, nil
	}

	if _, ok := surfaceLongToShort[models.SurfaceType(surface)]; ok {
		return models.SurfaceType(surface), nil
	}

	return "", fmt.Errorf("unknown surface %q", surface)
}

// DenormalizeSurface translates one canonical surface to its short form.
func DenormalizeSurface(surface models.SurfaceType) (string, error) {
	if short, ok := surfaceLongToShort[surface]; ok {
		return short, nil
	}

	return "", fmt.Errorf("unknown surface %q", surface)
}

// NormalizeSurfaces translates a short-form surface list to canonical form.
func NormalizeSurfaces(surfaces []string) ([]models.SurfaceType, error) {
	normalized := make([]models.SurfaceType, 0, len(surfaces))

	for _, s := range surfaces {
		long, err := NormalizeSurface(s)
		if err != nil {
			return nil, err
		}

		normalized = append(normalized, long)
	}

	return normalized, nil
}

// DenormalizeSurfaces translates a canonical surface list to short form.
func DenormalizeSurfaces(surfaces []models.SurfaceType) ([]string, error) {
	denormalized := make([]string, 0, len(surfaces))

	for _, s := range surfaces {
		short, err := DenormalizeSurface(s)
		if err != nil {
			return nil, err
		}

		denormalized = append(denormalized, short)
	}

	return denormalized, nil
}
