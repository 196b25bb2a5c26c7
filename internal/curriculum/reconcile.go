package curriculum

import (
	"context"
	"slices"
	"sort"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	entityUnits    = "units"
	entityTopics   = "topics"
	entityLessons  = "lessons"
	entityManifest = "manifest"
)

type idSet map[string]struct{}

func (set idSet) add(id string) {
	set[id] = struct{}{}
}

func (set idSet) has(id string) bool {
	_, ok := set[id]
	return ok
}

func (set idSet) sorted() []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// reconciliation holds the state of one SyncManifest call. Touched and written sets are local to
// the run and flow from pass to pass through the resolved slug maps.
type reconciliation struct {
	service       *Service
	tx            *gorm.DB
	manifest      Manifest
	prune         bool
	commit        *string
	defaultStatus AuthoringStatus
	nowSeconds    int64
	summary       *SyncSummary

	unitIDs  map[string]string
	topicIDs map[string]string
}

// SyncManifest reconciles the persisted tree with manifest in a single transaction: units, then
// topics, then lessons. Entries whose parent slug does not resolve are skipped and counted.
func (s *Service) SyncManifest(ctx context.Context, manifest Manifest, options SyncOptions) (SyncSummary, error) {
	if err := s.ready(opSyncManifest); err != nil {
		return SyncSummary{}, err
	}

	manifest.Normalize()
	if err := manifest.Validate(); err != nil {
		return SyncSummary{}, s.fail(opSyncManifest, reasonInvalidInput, err)
	}

	defaultStatus := AuthoringNotStarted
	if options.DefaultStatus != "" {
		parsed, err := ParseAuthoringStatus(string(options.DefaultStatus))
		if err != nil {
			return SyncSummary{}, s.fail(opSyncManifest, reasonInvalidInput, err)
		}
		defaultStatus = parsed
	}

	manifestHash, err := HashManifest(manifest)
	if err != nil {
		return SyncSummary{}, s.fail(opSyncManifest, reasonSerializationError, err)
	}

	now := s.nowSeconds()
	summary := SyncSummary{
		ManifestHash:        manifestHash,
		ManifestGeneratedAt: manifest.GeneratedAt,
		ManifestCommit:      optionalString(options.ManifestCommit),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	run := &reconciliation{
		service:       s,
		manifest:      manifest,
		prune:         options.Prune,
		commit:        summary.ManifestCommit,
		defaultStatus: defaultStatus,
		nowSeconds:    now,
		summary:       &summary,
	}
	err = s.transact(ctx, opSyncManifest, func(tx *gorm.DB) error {
		run.tx = tx
		if err := run.syncUnits(); err != nil {
			return err
		}
		if err := run.syncTopics(); err != nil {
			return err
		}
		return run.syncLessons()
	})
	if err != nil {
		return SyncSummary{}, err
	}

	s.loggerOrDefault().Info("manifest synced",
		zap.String("manifest_hash", summary.ManifestHash),
		zap.Bool("prune", options.Prune),
		zap.Int("units_created", summary.Units.Created),
		zap.Int("units_updated", summary.Units.Updated),
		zap.Int("units_deleted", summary.Units.Deleted),
		zap.Int("topics_created", summary.Topics.Created),
		zap.Int("topics_updated", summary.Topics.Updated),
		zap.Int("topics_deleted", summary.Topics.Deleted),
		zap.Int("lessons_created", summary.Lessons.Created),
		zap.Int("lessons_updated", summary.Lessons.Updated),
		zap.Int("lessons_deleted", summary.Lessons.Deleted),
		zap.Int("topics_skipped", summary.Skipped.Topics),
		zap.Int("lessons_skipped", summary.Skipped.Lessons))
	s.notify(ctx, entityManifest, "sync", summary.ManifestHash)
	return summary, nil
}

func (r *reconciliation) failQuery(err error) error {
	return r.service.fail(opSyncManifest, reasonQueryFailed, err)
}

// countDensified adds rows rewritten by a densify pass that were not already counted.
func countDensified(counts *EntityCounts, changed []string, written idSet) {
	for _, id := range changed {
		if written.has(id) {
			continue
		}
		written.add(id)
		counts.Updated++
	}
}

func (r *reconciliation) syncUnits() error {
	var existing []Unit
	if err := r.tx.Find(&existing).Error; err != nil {
		return r.failQuery(err)
	}
	bySlug := make(map[string]Unit, len(existing))
	for _, unit := range existing {
		bySlug[unit.Slug] = unit
	}

	touched := idSet{}
	written := idSet{}
	for position, entry := range r.manifest.Units {
		summary := optionalString(entry.Summary)
		unit, found := bySlug[entry.Slug]
		if found {
			updates := map[string]any{}
			if unit.Order != position {
				updates[columnSortOrder] = position
			}
			if unit.Title != entry.Title {
				updates["title"] = entry.Title
			}
			if !equalOptionalString(unit.Summary, summary) {
				updates["summary"] = summary
			}
			if len(updates) > 0 {
				updates[columnUpdatedAt] = r.nowSeconds
				if err := r.tx.Model(&Unit{}).Where("id = ?", unit.ID).Updates(updates).Error; err != nil {
					return r.failQuery(err)
				}
				r.summary.Units.Updated++
				written.add(unit.ID)
			}
			touched.add(unit.ID)
			continue
		}

		id, err := r.service.newID()
		if err != nil {
			return r.failQuery(err)
		}
		unit = Unit{
			ID:               id,
			Slug:             entry.Slug,
			Title:            entry.Title,
			Summary:          summary,
			Order:            position,
			Status:           UnitStatusActive,
			CreatedAtSeconds: r.nowSeconds,
			UpdatedAtSeconds: r.nowSeconds,
		}
		if err := r.tx.Create(&unit).Error; err != nil {
			return r.failQuery(err)
		}
		bySlug[unit.Slug] = unit
		touched.add(unit.ID)
		written.add(unit.ID)
		r.summary.Units.Created++
	}

	if r.prune {
		for _, unit := range existing {
			if touched.has(unit.ID) {
				continue
			}
			deleted, err := cascadeDeleteUnit(r.tx, unit.ID)
			if err != nil {
				return r.failQuery(err)
			}
			r.summary.Units.Deleted += deleted.Units
			r.summary.Topics.Deleted += deleted.Topics
			r.summary.Lessons.Deleted += deleted.Lessons
			delete(bySlug, unit.Slug)
		}
	}

	changed, err := densify(r.tx, unitScope(), touched, r.nowSeconds)
	if err != nil {
		return r.failQuery(err)
	}
	countDensified(&r.summary.Units, changed, written)

	r.unitIDs = make(map[string]string, len(bySlug))
	for slug, unit := range bySlug {
		r.unitIDs[slug] = unit.ID
	}
	return nil
}

func (r *reconciliation) syncTopics() error {
	var existing []Topic
	if err := r.tx.Find(&existing).Error; err != nil {
		return r.failQuery(err)
	}
	bySlug := make(map[string]Topic, len(existing))
	for _, topic := range existing {
		bySlug[topic.Slug] = topic
	}
	orders := r.planTopicOrders(bySlug)

	touched := idSet{}
	written := idSet{}
	affectedUnits := idSet{}
	for _, entry := range r.manifest.Topics {
		unitID, resolved := r.unitIDs[entry.UnitID]
		if !resolved {
			r.summary.Skipped.Topics++
			r.service.loggerOrDefault().Warn("manifest topic skipped: unit not found",
				zap.String("topic_slug", entry.Slug),
				zap.String("unit_slug", entry.UnitID))
			continue
		}

		topic, found := bySlug[entry.Slug]
		order := orders[entry.Slug]

		focusSkills := nonNil(entry.FocusSkills)
		overview := optionalString(entry.Overview)
		affectedUnits.add(unitID)

		if found {
			updates := map[string]any{}
			if topic.UnitID != unitID {
				updates[columnUnitID] = unitID
				affectedUnits.add(topic.UnitID)
			}
			if topic.Order != order {
				updates[columnSortOrder] = order
			}
			if !slices.Equal([]string(topic.FocusSkills), focusSkills) {
				updates["focus_skills"] = datatypes.JSONSlice[string](focusSkills)
			}
			if topic.Title != entry.Title {
				updates["title"] = entry.Title
			}
			if !equalOptionalString(topic.Overview, overview) {
				updates["overview"] = overview
			}
			if len(updates) > 0 {
				updates[columnUpdatedAt] = r.nowSeconds
				if err := r.tx.Model(&Topic{}).Where("id = ?", topic.ID).Updates(updates).Error; err != nil {
					return r.failQuery(err)
				}
				r.summary.Topics.Updated++
				written.add(topic.ID)
			}
			touched.add(topic.ID)
			continue
		}

		id, err := r.service.newID()
		if err != nil {
			return r.failQuery(err)
		}
		topic = Topic{
			ID:               id,
			Slug:             entry.Slug,
			UnitID:           unitID,
			Title:            entry.Title,
			Overview:         overview,
			FocusSkills:      datatypes.JSONSlice[string](focusSkills),
			Order:            order,
			Status:           TopicStatusActive,
			CreatedAtSeconds: r.nowSeconds,
			UpdatedAtSeconds: r.nowSeconds,
		}
		if err := r.tx.Create(&topic).Error; err != nil {
			return r.failQuery(err)
		}
		bySlug[topic.Slug] = topic
		touched.add(topic.ID)
		written.add(topic.ID)
		r.summary.Topics.Created++
	}

	if r.prune {
		for _, topic := range existing {
			if touched.has(topic.ID) {
				continue
			}
			deleted, err := cascadeDeleteTopic(r.tx, topic.ID)
			if err != nil {
				return r.failQuery(err)
			}
			r.summary.Topics.Deleted += deleted.Topics
			r.summary.Lessons.Deleted += deleted.Lessons
			affectedUnits.add(topic.UnitID)
			delete(bySlug, topic.Slug)
		}
	}

	for _, unitID := range affectedUnits.sorted() {
		changed, err := densify(r.tx, topicScope(unitID), touched, r.nowSeconds)
		if err != nil {
			return r.failQuery(err)
		}
		countDensified(&r.summary.Topics, changed, written)
	}

	r.topicIDs = make(map[string]string, len(bySlug))
	for slug, topic := range bySlug {
		r.topicIDs[slug] = topic.ID
	}
	return nil
}

// planTopicOrders ranks the manifest topics of every resolved unit into a dense 0..n-1
// sequence: topicOrder positions first, then unlisted topics already in the unit by stored
// order, then the remaining topics in manifest order. Slug breaks ties.
func (r *reconciliation) planTopicOrders(bySlug map[string]Topic) map[string]int {
	type candidate struct {
		slug  string
		group int
		key   int
	}

	slots := make(map[string]map[string]int, len(r.manifest.Units))
	for _, unit := range r.manifest.Units {
		unitSlots := make(map[string]int, len(unit.TopicOrder))
		for index, topicSlug := range unit.TopicOrder {
			if _, seen := unitSlots[topicSlug]; !seen {
				unitSlots[topicSlug] = index
			}
		}
		slots[unit.Slug] = unitSlots
	}

	byUnit := make(map[string][]candidate)
	for index, entry := range r.manifest.Topics {
		unitID, resolved := r.unitIDs[entry.UnitID]
		if !resolved {
			continue
		}
		next := candidate{slug: entry.Slug, group: 2, key: index}
		if slot, listed := slots[entry.UnitID][entry.Slug]; listed {
			next.group, next.key = 0, slot
		} else if topic, found := bySlug[entry.Slug]; found && topic.UnitID == unitID {
			next.group, next.key = 1, topic.Order
		}
		byUnit[unitID] = append(byUnit[unitID], next)
	}

	orders := make(map[string]int, len(r.manifest.Topics))
	for _, candidates := range byUnit {
		sort.SliceStable(candidates, func(i, j int) bool {
			left, right := candidates[i], candidates[j]
			if left.group != right.group {
				return left.group < right.group
			}
			if left.key != right.key {
				return left.key < right.key
			}
			return left.slug < right.slug
		})
		for rank, entry := range candidates {
			orders[entry.slug] = rank
		}
	}
	return orders
}

func (r *reconciliation) syncLessons() error {
	positions := make(map[string]map[string]int)
	for _, entry := range r.manifest.Lessons {
		slots, ok := positions[entry.TopicID]
		if !ok {
			slots = make(map[string]int)
			positions[entry.TopicID] = slots
		}
		if _, seen := slots[entry.Slug]; !seen {
			slots[entry.Slug] = len(slots)
		}
	}

	var existing []Lesson
	err := r.tx.Select(
		"id", "slug", columnTopicID, columnSortOrder, "authoring_status", "authoring_notes",
		"grade_levels", "manifest_hash", "manifest_generated_at", "manifest_commit",
	).Find(&existing).Error
	if err != nil {
		return r.failQuery(err)
	}
	bySlug := make(map[string]Lesson, len(existing))
	for _, lesson := range existing {
		bySlug[lesson.Slug] = lesson
	}

	manifestHash := stringPointer(r.summary.ManifestHash)
	generatedAt := stringPointer(r.manifest.GeneratedAt)
	touched := idSet{}
	written := idSet{}
	affectedTopics := idSet{}
	for _, entry := range r.manifest.Lessons {
		topicID, resolved := r.topicIDs[entry.TopicID]
		if !resolved {
			r.summary.Skipped.Lessons++
			r.service.loggerOrDefault().Warn("manifest lesson skipped: topic not found",
				zap.String("lesson_slug", entry.Slug),
				zap.String("topic_slug", entry.TopicID))
			continue
		}

		grades := make([]GradeLevel, 0, len(entry.GradeLevels))
		for _, raw := range entry.GradeLevels {
			grade, err := ParseGradeLevel(raw)
			if err != nil {
				return r.service.fail(opSyncManifest, reasonInvalidInput, err)
			}
			grades = append(grades, grade)
		}
		order := positions[entry.TopicID][entry.Slug]
		notes := optionalString(entry.Notes)
		affectedTopics.add(topicID)

		lesson, found := bySlug[entry.Slug]
		if found {
			updates := map[string]any{}
			if lesson.TopicID != topicID {
				updates[columnTopicID] = topicID
				affectedTopics.add(lesson.TopicID)
			}
			if lesson.Order != order {
				updates[columnSortOrder] = order
			}
			if !equalOptionalString(lesson.ManifestHash, manifestHash) ||
				!equalOptionalString(lesson.ManifestGeneratedAt, generatedAt) ||
				!equalOptionalString(lesson.ManifestCommit, r.commit) {
				updates["manifest_hash"] = manifestHash
				updates["manifest_generated_at"] = generatedAt
				updates["manifest_commit"] = r.commit
			}
			if !slices.Equal([]GradeLevel(lesson.GradeLevels), grades) {
				updates["grade_levels"] = datatypes.JSONSlice[GradeLevel](grades)
			}
			if lesson.AuthoringStatus == nil {
				updates["authoring_status"] = r.defaultStatus
			}
			if lesson.AuthoringNotes == nil && notes != nil {
				updates["authoring_notes"] = notes
			}
			if len(updates) > 0 {
				updates[columnUpdatedAt] = r.nowSeconds
				if err := r.tx.Model(&Lesson{}).Where("id = ?", lesson.ID).Updates(updates).Error; err != nil {
					return r.failQuery(err)
				}
				r.summary.Lessons.Updated++
				written.add(lesson.ID)
			}
			touched.add(lesson.ID)
			continue
		}

		draft, err := documentFromManifest(entry, grades)
		if err != nil {
			return r.service.fail(opSyncManifest, reasonSerializationError, err)
		}
		id, err := r.service.newID()
		if err != nil {
			return r.failQuery(err)
		}
		authoringStatus := r.defaultStatus
		lesson = Lesson{
			ID:                  id,
			Slug:                entry.Slug,
			TopicID:             topicID,
			Order:               order,
			Status:              LessonStatusDraft,
			Draft:               datatypes.JSON(draft),
			AuthoringStatus:     &authoringStatus,
			AuthoringNotes:      notes,
			GradeLevels:         datatypes.JSONSlice[GradeLevel](grades),
			ManifestHash:        manifestHash,
			ManifestGeneratedAt: generatedAt,
			ManifestCommit:      r.commit,
			CreatedAtSeconds:    r.nowSeconds,
			UpdatedAtSeconds:    r.nowSeconds,
		}
		if err := r.tx.Create(&lesson).Error; err != nil {
			return r.failQuery(err)
		}
		bySlug[lesson.Slug] = lesson
		touched.add(lesson.ID)
		written.add(lesson.ID)
		r.summary.Lessons.Created++
	}

	if r.prune {
		for _, lesson := range existing {
			if touched.has(lesson.ID) {
				continue
			}
			deleted := r.tx.Where("id = ?", lesson.ID).Delete(&Lesson{})
			if deleted.Error != nil {
				return r.failQuery(deleted.Error)
			}
			r.summary.Lessons.Deleted += int(deleted.RowsAffected)
			affectedTopics.add(lesson.TopicID)
		}
	}

	for _, topicID := range affectedTopics.sorted() {
		changed, err := densify(r.tx, lessonScope(topicID), touched, r.nowSeconds)
		if err != nil {
			return r.failQuery(err)
		}
		countDensified(&r.summary.Lessons, changed, written)
	}
	return nil
}
