package synctool

import (
	"bytes"
	"fmt"

	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"github.com/pmezard/go-difflib/difflib"
)

// CheckDrift compares a freshly built manifest with the committed file contents, ignoring
// generatedAt. On drift it returns the unified diff together with ErrManifestDrift.
func CheckDrift(built curriculum.Manifest, committed []byte, committedName string) (string, error) {
	existing, err := DecodeManifest(committed)
	if err != nil {
		return "", fmt.Errorf("decode committed manifest %s: %w", committedName, err)
	}

	existing.GeneratedAt = ""
	built.GeneratedAt = ""
	before, err := EncodeManifest(existing)
	if err != nil {
		return "", err
	}
	after, err := EncodeManifest(built)
	if err != nil {
		return "", err
	}
	if bytes.Equal(before, after) {
		return "", nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: committedName,
		ToFile:   "rebuilt from source",
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("render manifest diff: %w", err)
	}
	return diff, ErrManifestDrift
}
