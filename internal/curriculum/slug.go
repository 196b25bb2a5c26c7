package curriculum

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

const (
	fallbackSlug  = "item"
	maxSlugLength = 120
)

// Slugify reduces raw text to lower-kebab-case ASCII. Accented letters are folded to their base
// letter; every other run of non-alphanumerics becomes a single dash.
func Slugify(raw string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), raw)
	if err != nil {
		folded = raw
	}

	var builder strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingDash = false
			builder.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	slug := builder.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// IsSlug reports whether value is already in Slugify form.
func IsSlug(value string) bool {
	return value != "" && Slugify(value) == value
}

// ensureUniqueSlug returns base, or base suffixed with -2, -3, ... when another row in the
// model's table already holds it. Suffixed slugs never exceed maxSlugLength. excludeID lets a row keep its own slug on rename.
func ensureUniqueSlug(tx *gorm.DB, model any, base string, excludeID string) (string, error) {
	root := Slugify(base)
	candidate := root
	for suffix := 2; ; suffix++ {
		taken, err := slugTaken(tx, model, candidate, excludeID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = suffixedSlug(root, suffix)
	}
}

// suffixedSlug appends -suffix to root, shortening root so the result stays within
// maxSlugLength.
func suffixedSlug(root string, suffix int) string {
	tail := fmt.Sprintf("-%d", suffix)
	if len(root)+len(tail) > maxSlugLength {
		root = strings.TrimRight(root[:maxSlugLength-len(tail)], "-")
	}
	if root == "" {
		root = fallbackSlug
	}
	return root + tail
}

func slugTaken(tx *gorm.DB, model any, slug string, excludeID string) (bool, error) {
	query := tx.Model(model).Where("slug = ?", slug)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// slugSource picks the explicit slug when present, otherwise the title.
func slugSource(explicit *string, title string) string {
	if explicit != nil && strings.TrimSpace(*explicit) != "" {
		return *explicit
	}
	return title
}
