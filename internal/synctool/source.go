package synctool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/curriculum/internal/curriculum"
	"gopkg.in/yaml.v3"
)

var (
	// ErrManifestDrift reports that the committed manifest no longer matches its source.
	ErrManifestDrift = errors.New("manifest drift detected")
	errMissingSource = errors.New("source path is required")
)

// LoadSource reads an authoring source file. Files ending in .yaml or .yml are decoded as YAML,
// everything else as JSON.
func LoadSource(path string) (curriculum.Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return curriculum.Manifest{}, errMissingSource
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return curriculum.Manifest{}, fmt.Errorf("read source %s: %w", path, err)
	}

	var source curriculum.Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &source); err != nil {
			return curriculum.Manifest{}, fmt.Errorf("decode yaml source %s: %w", path, err)
		}
	default:
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&source); err != nil {
			return curriculum.Manifest{}, fmt.Errorf("decode json source %s: %w", path, err)
		}
	}
	return source, nil
}

// BuildManifest fills derivable fields of source, stamps generatedAt and validates the result.
// Missing slugs come from ids or titles, missing ids from slugs. Parent references are slugs, and a
// unit without an explicit topicOrder lists its topics in source order.
func BuildManifest(source curriculum.Manifest, generatedAt time.Time) (curriculum.Manifest, error) {
	manifest := source
	manifest.GeneratedAt = generatedAt.UTC().Format(time.RFC3339)

	manifest.Units = append([]curriculum.ManifestUnit(nil), source.Units...)
	for index := range manifest.Units {
		unit := &manifest.Units[index]
		unit.Slug, unit.ID = deriveIdentity(unit.Slug, unit.ID, unit.Title)
	}
	manifest.Topics = append([]curriculum.ManifestTopic(nil), source.Topics...)
	for index := range manifest.Topics {
		topic := &manifest.Topics[index]
		topic.Slug, topic.ID = deriveIdentity(topic.Slug, topic.ID, topic.Title)
	}
	manifest.Lessons = append([]curriculum.ManifestLesson(nil), source.Lessons...)
	for index := range manifest.Lessons {
		lesson := &manifest.Lessons[index]
		lesson.Slug, lesson.ID = deriveIdentity(lesson.Slug, lesson.ID, lesson.Title)
	}

	topicsByUnit := make(map[string][]string)
	for _, topic := range manifest.Topics {
		topicsByUnit[topic.UnitID] = append(topicsByUnit[topic.UnitID], topic.Slug)
	}
	for index := range manifest.Units {
		unit := &manifest.Units[index]
		if len(unit.TopicOrder) == 0 {
			unit.TopicOrder = append([]string(nil), topicsByUnit[unit.Slug]...)
		}
	}

	manifest.Normalize()
	if err := manifest.Validate(); err != nil {
		return curriculum.Manifest{}, err
	}
	return manifest, nil
}

func deriveIdentity(slug, id, title string) (string, string) {
	slug = strings.TrimSpace(slug)
	id = strings.TrimSpace(id)
	if slug == "" {
		if id != "" && curriculum.IsSlug(id) {
			slug = id
		} else {
			slug = curriculum.Slugify(title)
		}
	}
	if id == "" {
		id = slug
	}
	return slug, id
}

// EncodeManifest renders manifest the way it is committed: indented JSON with a trailing newline.
func EncodeManifest(manifest curriculum.Manifest) ([]byte, error) {
	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}

// DecodeManifest parses a committed manifest file.
func DecodeManifest(raw []byte) (curriculum.Manifest, error) {
	var manifest curriculum.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return curriculum.Manifest{}, err
	}
	manifest.Normalize()
	return manifest, nil
}

// WriteManifestFile writes manifest to path, creating parent directories as needed.
func WriteManifestFile(path string, manifest curriculum.Manifest) error {
	encoded, err := EncodeManifest(manifest)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create manifest directory: %w", err)
		}
	}
	return os.WriteFile(path, encoded, 0o644)
}
