package snapshot

// Summary is the count-only change set between live content and a draft.
// LessonsMoved is informational and is already included in LessonsUpdated.
type Summary struct {
	ModulesAdded   int  `json:"modulesAdded"`
	ModulesRemoved int  `json:"modulesRemoved"`
	ModulesUpdated int  `json:"modulesUpdated"`
	LessonsAdded   int  `json:"lessonsAdded"`
	LessonsRemoved int  `json:"lessonsRemoved"`
	LessonsUpdated int  `json:"lessonsUpdated"`
	LessonsMoved   int  `json:"lessonsMoved"`
	HasChanges     bool `json:"hasChanges"`
}

type liveLesson struct {
	lesson   Lesson
	moduleID string
}

// ComputeDiff compares draft against live. Modules and lessons are matched by
// persisted id only; live lessons form one flat pool across all modules, so a
// lesson that reappears under another module counts as updated rather than as
// removed plus added. Positions are taken from list order, not from the
// snapshots' Position fields.
func ComputeDiff(live, draft Snapshot) Summary {
	liveModules := make(map[string]Module, len(live.Modules))
	liveModulePos := make(map[string]int, len(live.Modules))
	liveLessons := make(map[string]liveLesson, live.LessonCount())
	for i, module := range live.Modules {
		id := module.ID.PersistedID()
		if id == "" {
			continue
		}
		liveModules[id] = module
		liveModulePos[id] = i
		for j, lesson := range module.Lessons {
			if lessonID := lesson.ID.PersistedID(); lessonID != "" {
				lesson.Position = j
				liveLessons[lessonID] = liveLesson{lesson: lesson, moduleID: id}
			}
		}
	}

	var summary Summary
	seenModules := make(map[string]struct{}, len(liveModules))
	seenLessons := make(map[string]struct{}, len(liveLessons))

	for i, module := range draft.Modules {
		draftModuleID := module.ID.PersistedID()
		previous, matched := liveModules[draftModuleID]
		if _, dup := seenModules[draftModuleID]; !matched || dup {
			summary.ModulesAdded++
			draftModuleID = ""
		} else {
			seenModules[draftModuleID] = struct{}{}
			if previous.Title != module.Title || liveModulePos[draftModuleID] != i {
				summary.ModulesUpdated++
			}
		}

		for j, lesson := range module.Lessons {
			lessonID := lesson.ID.PersistedID()
			before, ok := liveLessons[lessonID]
			if _, dup := seenLessons[lessonID]; !ok || dup {
				summary.LessonsAdded++
				continue
			}
			seenLessons[lessonID] = struct{}{}
			moved := before.moduleID != draftModuleID
			if moved {
				summary.LessonsMoved++
			}
			if moved || before.lesson.Position != j || lessonChanged(before.lesson, lesson) {
				summary.LessonsUpdated++
			}
		}
	}

	summary.ModulesRemoved = len(liveModules) - len(seenModules)
	summary.LessonsRemoved = len(liveLessons) - len(seenLessons)
	summary.HasChanges = summary.ModulesAdded+summary.ModulesRemoved+summary.ModulesUpdated+
		summary.LessonsAdded+summary.LessonsRemoved+summary.LessonsUpdated > 0
	return summary
}

func lessonChanged(before, after Lesson) bool {
	if before.Title != after.Title || before.ContentType != after.ContentType {
		return true
	}
	return bodyValue(before.ContentBody) != bodyValue(after.ContentBody)
}

func bodyValue(body *string) string {
	if body == nil {
		return ""
	}
	return *body
}
