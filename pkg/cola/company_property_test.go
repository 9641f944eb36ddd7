//go:build property
// +build property

// Package cola_test contains property-based tests for the name
// normalization, slug derivation and category bucketing helpers.
package cola_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/colascope/colascope/pkg/cola"
)

// TestSlugifyIdempotent verifies re-slugging a slug changes nothing.
// Property: Slugify(Slugify(s)) == Slugify(s) for any s
func TestSlugifyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("slug derivation is idempotent", prop.ForAll(
		func(s string) bool {
			slug := cola.Slugify(s)
			return cola.Slugify(slug) == slug
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestSlugifyAlphabet verifies every slug stays inside the slug alphabet:
// ASCII lowercase alphanumerics separated by single interior hyphens.
func TestSlugifyAlphabet(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("slugs use only the slug alphabet", prop.ForAll(
		func(s string) bool {
			slug := cola.Slugify(s)
			if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") {
				return false
			}
			if strings.Contains(slug, "--") {
				return false
			}
			for _, r := range slug {
				switch {
				case r >= 'a' && r <= 'z':
				case r >= '0' && r <= '9':
				case r == '-':
				default:
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestNormalizeCompanyNameIdempotent verifies alias-key normalization is a
// fixed point after one application.
func TestNormalizeCompanyNameIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("company-name normalization is idempotent", prop.ForAll(
		func(s string) bool {
			norm := cola.NormalizeCompanyName(s)
			return cola.NormalizeCompanyName(norm) == norm
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestPreferredBrandForSlug verifies collision resolution is symmetric and
// always picks one of its inputs, so the winner does not depend on insert
// order.
func TestPreferredBrandForSlug(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("collision winner is order-independent", prop.ForAll(
		func(a, b string) bool {
			w := cola.PreferredBrandForSlug(a, b)
			if w != a && w != b {
				return false
			}
			return w == cola.PreferredBrandForSlug(b, a)
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestCategoryForClassCodeExhaustive verifies every digit-leading class code
// lands in a product family, so no approved filing loses its category.
func TestCategoryForClassCodeExhaustive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every three-digit code has a category", prop.ForAll(
		func(code int) bool {
			return cola.CategoryForClassCode(fmt.Sprintf("%03d", code)) != ""
		},
		gen.IntRange(0, 999),
	))

	properties.TestingRun(t)
}
