// Package reconcile rewrites a course's persisted modules and lessons so they
// match a target snapshot exactly. Rows whose ids the store already knows keep
// their identity; everything else is created, and rows missing from the target
// are deleted unless dependent records still reference them.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"curricula/api/internal/snapshot"
	"curricula/api/internal/store"
)

type BlockedModule struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Assignments int    `json:"assignments"`
	Materials   int    `json:"materials"`
	Recordings  int    `json:"recordings"`
}

type BlockedLesson struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ProgressRows int    `json:"progressRows"`
}

// DependencyError lists every row whose deletion was refused.
type DependencyError struct {
	Modules []BlockedModule `json:"modules,omitempty"`
	Lessons []BlockedLesson `json:"lessons,omitempty"`
}

func (e *DependencyError) Error() string {
	parts := make([]string, 0, len(e.Modules)+len(e.Lessons))
	for _, m := range e.Modules {
		parts = append(parts, fmt.Sprintf("module %q has %d dependent records", m.Title, m.Assignments+m.Materials+m.Recordings))
	}
	for _, l := range e.Lessons {
		parts = append(parts, fmt.Sprintf("lesson %q has %d progress records", l.Title, l.ProgressRows))
	}
	return "deletion blocked: " + strings.Join(parts, "; ")
}

type Result struct {
	Live           snapshot.Snapshot
	ModulesCreated int
	ModulesUpdated int
	ModulesDeleted int
	LessonsCreated int
	LessonsUpdated int
	LessonsDeleted int
	DeletedModules []string
	DeletedLessons []string
}

// Apply must run inside a store course transaction: it performs no locking
// of its own and relies on the caller rolling back when it returns an error.
func Apply(ctx context.Context, tx store.ContentTx, target snapshot.Snapshot) (Result, error) {
	if err := snapshot.AssertUniqueIDs(target); err != nil {
		return Result{}, err
	}

	modules, err := tx.ListModules(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load modules: %w", err)
	}
	lessons, err := tx.ListLessons(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load lessons: %w", err)
	}

	moduleByID := make(map[string]store.Module, len(modules))
	for _, m := range modules {
		moduleByID[m.ID] = m
	}
	lessonByID := make(map[string]store.Lesson, len(lessons))
	for _, l := range lessons {
		lessonByID[l.ID] = l
	}

	retainedModules := map[string]bool{}
	retainedLessons := map[string]bool{}
	for _, m := range target.Modules {
		if id := m.ID.PersistedID(); id != "" {
			if _, ok := moduleByID[id]; ok {
				retainedModules[id] = true
			}
		}
		for _, l := range m.Lessons {
			if id := l.ID.PersistedID(); id != "" {
				if _, ok := lessonByID[id]; ok {
					retainedLessons[id] = true
				}
			}
		}
	}

	deleteModules := make([]string, 0)
	for _, m := range modules {
		if !retainedModules[m.ID] {
			deleteModules = append(deleteModules, m.ID)
		}
	}
	deleteLessons := make([]string, 0)
	for _, l := range lessons {
		if !retainedLessons[l.ID] {
			deleteLessons = append(deleteLessons, l.ID)
		}
	}

	if err := guard(ctx, tx, deleteModules, deleteLessons, moduleByID, lessonByID); err != nil {
		return Result{}, err
	}

	var res Result
	for mi, m := range target.Modules {
		moduleID, err := applyModule(ctx, tx, moduleByID, m, mi, &res)
		if err != nil {
			return Result{}, err
		}
		for li, l := range m.Lessons {
			if err := applyLesson(ctx, tx, lessonByID, l, moduleID, li, &res); err != nil {
				return Result{}, err
			}
		}
	}

	if err := tx.DeleteLessons(ctx, deleteLessons); err != nil {
		return Result{}, fmt.Errorf("delete lessons: %w", err)
	}
	if err := tx.DeleteModules(ctx, deleteModules); err != nil {
		return Result{}, fmt.Errorf("delete modules: %w", err)
	}
	res.ModulesDeleted = len(deleteModules)
	res.LessonsDeleted = len(deleteLessons)
	res.DeletedModules = deleteModules
	res.DeletedLessons = deleteLessons

	live, err := ReadLive(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	res.Live = live
	return res, nil
}

func guard(ctx context.Context, tx store.ContentTx, moduleIDs, lessonIDs []string, modules map[string]store.Module, lessons map[string]store.Lesson) error {
	var blocked DependencyError

	if len(moduleIDs) > 0 {
		counts, err := tx.ModuleDependents(ctx, moduleIDs)
		if err != nil {
			return fmt.Errorf("count module dependents: %w", err)
		}
		for _, id := range moduleIDs {
			c := counts[id]
			if c.Total() == 0 {
				continue
			}
			blocked.Modules = append(blocked.Modules, BlockedModule{
				ID:          id,
				Title:       modules[id].Title,
				Assignments: c.Assignments,
				Materials:   c.Materials,
				Recordings:  c.Recordings,
			})
		}
	}

	if len(lessonIDs) > 0 {
		progress, err := tx.LessonProgress(ctx, lessonIDs)
		if err != nil {
			return fmt.Errorf("count lesson progress: %w", err)
		}
		for _, id := range lessonIDs {
			if rows := progress[id]; rows > 0 {
				blocked.Lessons = append(blocked.Lessons, BlockedLesson{ID: id, Title: lessons[id].Title, ProgressRows: rows})
			}
		}
	}

	if len(blocked.Modules) > 0 || len(blocked.Lessons) > 0 {
		return &blocked
	}
	return nil
}

func applyModule(ctx context.Context, tx store.ContentTx, existing map[string]store.Module, m snapshot.Module, index int, res *Result) (string, error) {
	if current, ok := existing[m.ID.PersistedID()]; ok {
		if current.Title != m.Title || current.Position != index {
			current.Title = m.Title
			current.Position = index
			if err := tx.UpdateModule(ctx, current); err != nil {
				return "", fmt.Errorf("update module %s: %w", current.ID, err)
			}
			res.ModulesUpdated++
		}
		return current.ID, nil
	}

	id, err := tx.InsertModule(ctx, store.Module{CourseID: tx.CourseID(), Title: m.Title, Position: index})
	if err != nil {
		return "", fmt.Errorf("insert module: %w", err)
	}
	res.ModulesCreated++
	return id, nil
}

func applyLesson(ctx context.Context, tx store.ContentTx, existing map[string]store.Lesson, l snapshot.Lesson, moduleID string, index int, res *Result) error {
	next := store.Lesson{
		ModuleID:    moduleID,
		Title:       l.Title,
		ContentType: l.ContentType,
		ContentBody: l.ContentBody,
		Position:    index,
	}
	if next.ContentType == "" {
		next.ContentType = snapshot.ContentText
	}

	if current, ok := existing[l.ID.PersistedID()]; ok {
		next.ID = current.ID
		if sameLesson(current, next) {
			return nil
		}
		if err := tx.UpdateLesson(ctx, next); err != nil {
			return fmt.Errorf("update lesson %s: %w", current.ID, err)
		}
		res.LessonsUpdated++
		return nil
	}

	if _, err := tx.InsertLesson(ctx, next); err != nil {
		return fmt.Errorf("insert lesson: %w", err)
	}
	res.LessonsCreated++
	return nil
}

func sameLesson(a, b store.Lesson) bool {
	return a.ModuleID == b.ModuleID &&
		a.Title == b.Title &&
		a.ContentType == b.ContentType &&
		a.Position == b.Position &&
		equalBody(a.ContentBody, b.ContentBody)
}

func equalBody(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ReadLive assembles the course's persisted content as a snapshot, ordered by
// position at each level and renumbered from zero.
func ReadLive(ctx context.Context, tx store.ContentTx) (snapshot.Snapshot, error) {
	modules, err := tx.ListModules(ctx)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read modules: %w", err)
	}
	lessons, err := tx.ListLessons(ctx)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read lessons: %w", err)
	}

	sort.SliceStable(modules, func(i, j int) bool { return modules[i].Position < modules[j].Position })
	byModule := make(map[string][]store.Lesson, len(modules))
	for _, l := range lessons {
		byModule[l.ModuleID] = append(byModule[l.ModuleID], l)
	}

	out := snapshot.Snapshot{Modules: make([]snapshot.Module, 0, len(modules))}
	for _, m := range modules {
		children := byModule[m.ID]
		sort.SliceStable(children, func(i, j int) bool { return children[i].Position < children[j].Position })

		module := snapshot.Module{
			ID:      snapshot.Persisted(m.ID),
			Title:   m.Title,
			Lessons: make([]snapshot.Lesson, 0, len(children)),
		}
		for _, l := range children {
			module.Lessons = append(module.Lessons, snapshot.Lesson{
				ID:          snapshot.Persisted(l.ID),
				Title:       l.Title,
				ContentType: l.ContentType,
				ContentBody: l.ContentBody,
			})
		}
		out.Modules = append(out.Modules, module)
	}
	return out.Renumber(), nil
}
