package curriculum

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const lessonDocumentVersion = 1

var defaultSegmentTypes = []string{"presentation", "guided_practice", "independent_practice"}

// LessonDocument is the shape of the lesson content the service itself writes. Stored drafts are
// opaque beyond the meta block, which the tree view reads for titles.
type LessonDocument struct {
	Version       int             `json:"version"`
	Meta          LessonMeta      `json:"meta"`
	MaterialID    *string         `json:"materialId,omitempty"`
	Segments      []LessonSegment `json:"segments"`
	Skills        []string        `json:"skills"`
	Prerequisites []string        `json:"prerequisites"`
}

type LessonMeta struct {
	Title       string       `json:"title"`
	Summary     *string      `json:"summary,omitempty"`
	GradeLevels []GradeLevel `json:"gradeLevels"`
}

type LessonSegment struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Representation *string `json:"representation,omitempty"`
	Blocks         []any   `json:"blocks"`
}

func newLessonDocument(title string, summary *string, grades []GradeLevel, segmentTypes []ManifestSegment) LessonDocument {
	if len(segmentTypes) == 0 {
		segmentTypes = make([]ManifestSegment, 0, len(defaultSegmentTypes))
		for _, segmentType := range defaultSegmentTypes {
			segmentTypes = append(segmentTypes, ManifestSegment{Type: segmentType})
		}
	}
	segments := make([]LessonSegment, 0, len(segmentTypes))
	for index, segment := range segmentTypes {
		segments = append(segments, LessonSegment{
			ID:             fmt.Sprintf("segment-%d", index+1),
			Type:           segment.Type,
			Representation: segment.Representation,
			Blocks:         []any{},
		})
	}
	if grades == nil {
		grades = []GradeLevel{}
	}
	return LessonDocument{
		Version:       lessonDocumentVersion,
		Meta:          LessonMeta{Title: title, Summary: summary, GradeLevels: grades},
		Segments:      segments,
		Skills:        []string{},
		Prerequisites: []string{},
	}
}

// documentFromManifest seeds a draft for a lesson the reconciler creates.
func documentFromManifest(entry ManifestLesson, grades []GradeLevel) ([]byte, error) {
	document := newLessonDocument(entry.Title, nil, grades, entry.Segments)
	document.MaterialID = entry.MaterialID
	document.Skills = nonNil(entry.Skills)
	document.Prerequisites = nonNil(entry.PrerequisiteLessonIDs)
	return json.Marshal(document)
}

// documentHeadline extracts the display title and summary from a stored draft.
func documentHeadline(raw []byte) (string, *string) {
	var headline struct {
		Meta struct {
			Title   string  `json:"title"`
			Summary *string `json:"summary"`
		} `json:"meta"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &headline) != nil {
		return "", nil
	}
	return headline.Meta.Title, headline.Meta.Summary
}

// JSONObjectValidator accepts any JSON object. Real schema checks live outside this service.
type JSONObjectValidator struct{}

func (JSONObjectValidator) Validate(document []byte) error {
	trimmed := bytes.TrimSpace(document)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: lesson document must be a JSON object", ErrValidation)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return fmt.Errorf("%w: lesson document: %v", ErrValidation, err)
	}
	return nil
}
