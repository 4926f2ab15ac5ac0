package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errReadOnly = errors.New("read-only transaction")

// MemoryStore keeps course content in process. Each WithCourseTx works on a
// private copy of the course and publishes it on success, which gives the same
// all-or-nothing behaviour as the Postgres store.
type MemoryStore struct {
	mu          sync.Mutex
	courseLocks map[string]*sync.Mutex
	courses     map[string]bool
	modules     map[string]Module
	lessons     map[string]Lesson
	drafts      map[string]Draft
	dependents  map[string]DependentCounts
	progress    map[string]int
	order       map[string]int64
	seq         int64
	unavailable bool
	faults      map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courseLocks: map[string]*sync.Mutex{},
		courses:     map[string]bool{},
		modules:     map[string]Module{},
		lessons:     map[string]Lesson{},
		drafts:      map[string]Draft{},
		dependents:  map[string]DependentCounts{},
		progress:    map[string]int{},
		order:       map[string]int64{},
		faults:      map[string]error{},
	}
}

func (s *MemoryStore) AddCourse(courseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.courses[courseID] = true
}

// SetModuleDependents records externally owned rows that reference a module.
func (s *MemoryStore) SetModuleDependents(moduleID string, counts DependentCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counts.Total() == 0 {
		delete(s.dependents, moduleID)
		return
	}
	s.dependents[moduleID] = counts
}

func (s *MemoryStore) SetLessonProgress(lessonID string, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rows == 0 {
		delete(s.progress, lessonID)
		return
	}
	s.progress[lessonID] = rows
}

// SetUnavailable makes every subsequent call fail with a TransientError.
func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// FailNext makes the next call of the named ContentTx method return err.
func (s *MemoryStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return &TransientError{Op: "ping", Err: errors.New("memory store offline")}
	}
	return nil
}

func (s *MemoryStore) WithCourseTx(ctx context.Context, courseID string, fn func(ContentTx) error) error {
	lock := s.courseLock(courseID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.begin(ctx, courseID, false)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) ViewCourse(ctx context.Context, courseID string, fn func(ContentTx) error) error {
	tx, err := s.begin(ctx, courseID, true)
	if err != nil {
		return err
	}
	return fn(tx)
}

func (s *MemoryStore) ListPendingDrafts(context.Context) ([]Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, &TransientError{Op: "list pending drafts", Err: errors.New("memory store offline")}
	}
	items := make([]Draft, 0)
	for _, draft := range s.drafts {
		if draft.Status == DraftStatusPendingApproval {
			items = append(items, cloneDraft(draft))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].SubmittedAt, items[j].SubmittedAt
		if a == nil || b == nil {
			return items[i].CourseID < items[j].CourseID
		}
		if a.Equal(*b) {
			return items[i].CourseID < items[j].CourseID
		}
		return a.Before(*b)
	})
	return items, nil
}

func (s *MemoryStore) courseLock(courseID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.courseLocks[courseID]
	if !ok {
		lock = &sync.Mutex{}
		s.courseLocks[courseID] = lock
	}
	return lock
}

func (s *MemoryStore) begin(ctx context.Context, courseID string, readOnly bool) (*memCourseTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, &TransientError{Op: "begin course tx", Err: errors.New("memory store offline")}
	}
	if !s.courses[courseID] {
		return nil, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}

	tx := &memCourseTx{
		store:     s,
		courseID:  courseID,
		readOnly:  readOnly,
		modules:   map[string]Module{},
		lessons:   map[string]Lesson{},
		order:     map[string]int64{},
		deletedID: map[string]bool{},
	}
	for id, module := range s.modules {
		if module.CourseID == courseID {
			tx.modules[id] = module
			tx.order[id] = s.order[id]
		}
	}
	for id, lesson := range s.lessons {
		if _, ok := tx.modules[lesson.ModuleID]; ok {
			lesson.ContentBody = cloneString(lesson.ContentBody)
			tx.lessons[id] = lesson
			tx.order[id] = s.order[id]
		}
	}
	if draft, ok := s.drafts[courseID]; ok {
		copied := cloneDraft(draft)
		tx.draft = &copied
	}
	return tx, nil
}

func (s *MemoryStore) commit(tx *memCourseTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, module := range s.modules {
		if module.CourseID == tx.courseID {
			for lessonID, lesson := range s.lessons {
				if lesson.ModuleID == id {
					delete(s.lessons, lessonID)
				}
			}
			delete(s.modules, id)
		}
	}
	for id, module := range tx.modules {
		s.modules[id] = module
	}
	for id, lesson := range tx.lessons {
		s.lessons[id] = lesson
	}
	for id, order := range tx.order {
		s.order[id] = order
	}
	for id := range tx.deletedID {
		delete(s.order, id)
	}
	if tx.draft != nil {
		s.drafts[tx.courseID] = cloneDraft(*tx.draft)
	} else {
		delete(s.drafts, tx.courseID)
	}
}

func (s *MemoryStore) nextOrder() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *MemoryStore) takeFault(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.faults[method]
	if !ok {
		return nil
	}
	delete(s.faults, method)
	return err
}

func (s *MemoryStore) dependentsOf(id string) DependentCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dependents[id]
}

func (s *MemoryStore) progressOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress[id]
}

type memCourseTx struct {
	store     *MemoryStore
	courseID  string
	readOnly  bool
	modules   map[string]Module
	lessons   map[string]Lesson
	order     map[string]int64
	deletedID map[string]bool
	draft     *Draft
}

func (t *memCourseTx) CourseID() string { return t.courseID }

func (t *memCourseTx) guard(method string, write bool) error {
	if write && t.readOnly {
		return fmt.Errorf("%s: %w", method, errReadOnly)
	}
	return t.store.takeFault(method)
}

func (t *memCourseTx) ListModules(context.Context) ([]Module, error) {
	if err := t.guard("ListModules", false); err != nil {
		return nil, err
	}
	items := make([]Module, 0, len(t.modules))
	for _, module := range t.modules {
		items = append(items, module)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return t.order[items[i].ID] < t.order[items[j].ID]
	})
	return items, nil
}

func (t *memCourseTx) ListLessons(context.Context) ([]Lesson, error) {
	if err := t.guard("ListLessons", false); err != nil {
		return nil, err
	}
	items := make([]Lesson, 0, len(t.lessons))
	for _, lesson := range t.lessons {
		lesson.ContentBody = cloneString(lesson.ContentBody)
		items = append(items, lesson)
	}
	sort.Slice(items, func(i, j int) bool {
		mi, mj := t.modules[items[i].ModuleID], t.modules[items[j].ModuleID]
		if mi.Position != mj.Position {
			return mi.Position < mj.Position
		}
		if mi.ID != mj.ID {
			return t.order[mi.ID] < t.order[mj.ID]
		}
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return t.order[items[i].ID] < t.order[items[j].ID]
	})
	return items, nil
}

func (t *memCourseTx) InsertModule(_ context.Context, module Module) (string, error) {
	if err := t.guard("InsertModule", true); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	module.ID = uuid.NewString()
	module.CourseID = t.courseID
	module.CreatedAt = now
	module.UpdatedAt = now
	t.modules[module.ID] = module
	t.order[module.ID] = t.store.nextOrder()
	return module.ID, nil
}

func (t *memCourseTx) UpdateModule(_ context.Context, module Module) error {
	if err := t.guard("UpdateModule", true); err != nil {
		return err
	}
	current, ok := t.modules[module.ID]
	if !ok {
		return nil
	}
	current.Title = module.Title
	current.Position = module.Position
	current.UpdatedAt = time.Now().UTC()
	t.modules[module.ID] = current
	return nil
}

func (t *memCourseTx) InsertLesson(_ context.Context, lesson Lesson) (string, error) {
	if err := t.guard("InsertLesson", true); err != nil {
		return "", err
	}
	if _, ok := t.modules[lesson.ModuleID]; !ok {
		return "", fmt.Errorf("insert lesson: module %s: %w", lesson.ModuleID, ErrNotFound)
	}
	now := time.Now().UTC()
	lesson.ID = uuid.NewString()
	lesson.ContentBody = cloneString(lesson.ContentBody)
	lesson.CreatedAt = now
	lesson.UpdatedAt = now
	t.lessons[lesson.ID] = lesson
	t.order[lesson.ID] = t.store.nextOrder()
	return lesson.ID, nil
}

func (t *memCourseTx) UpdateLesson(_ context.Context, lesson Lesson) error {
	if err := t.guard("UpdateLesson", true); err != nil {
		return err
	}
	current, ok := t.lessons[lesson.ID]
	if !ok {
		return nil
	}
	if _, ok := t.modules[lesson.ModuleID]; !ok {
		return fmt.Errorf("update lesson: module %s: %w", lesson.ModuleID, ErrNotFound)
	}
	current.ModuleID = lesson.ModuleID
	current.Title = lesson.Title
	current.ContentType = lesson.ContentType
	current.ContentBody = cloneString(lesson.ContentBody)
	current.Position = lesson.Position
	current.UpdatedAt = time.Now().UTC()
	t.lessons[lesson.ID] = current
	return nil
}

func (t *memCourseTx) DeleteLessons(_ context.Context, ids []string) error {
	if err := t.guard("DeleteLessons", true); err != nil {
		return err
	}
	for _, id := range ids {
		if t.store.progressOf(id) > 0 {
			return fmt.Errorf("delete lesson %s: referenced by lesson_progress", id)
		}
	}
	for _, id := range ids {
		delete(t.lessons, id)
		t.deletedID[id] = true
	}
	return nil
}

func (t *memCourseTx) DeleteModules(_ context.Context, ids []string) error {
	if err := t.guard("DeleteModules", true); err != nil {
		return err
	}
	for _, id := range ids {
		if t.store.dependentsOf(id).Total() > 0 {
			return fmt.Errorf("delete module %s: referenced by dependent rows", id)
		}
		for _, lesson := range t.lessons {
			if lesson.ModuleID == id {
				return fmt.Errorf("delete module %s: still has lessons", id)
			}
		}
	}
	for _, id := range ids {
		delete(t.modules, id)
		t.deletedID[id] = true
	}
	return nil
}

func (t *memCourseTx) ModuleDependents(_ context.Context, ids []string) (map[string]DependentCounts, error) {
	if err := t.guard("ModuleDependents", false); err != nil {
		return nil, err
	}
	counts := make(map[string]DependentCounts, len(ids))
	for _, id := range ids {
		if _, ok := t.modules[id]; !ok {
			continue
		}
		counts[id] = t.store.dependentsOf(id)
	}
	return counts, nil
}

func (t *memCourseTx) LessonProgress(_ context.Context, ids []string) (map[string]int, error) {
	if err := t.guard("LessonProgress", false); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(ids))
	for _, id := range ids {
		if rows := t.store.progressOf(id); rows > 0 {
			counts[id] = rows
		}
	}
	return counts, nil
}

func (t *memCourseTx) GetDraft(context.Context) (*Draft, error) {
	if err := t.guard("GetDraft", false); err != nil {
		return nil, err
	}
	if t.draft == nil {
		return nil, nil
	}
	copied := cloneDraft(*t.draft)
	return &copied, nil
}

func (t *memCourseTx) SaveDraft(_ context.Context, draft Draft) (Draft, error) {
	if err := t.guard("SaveDraft", true); err != nil {
		return Draft{}, err
	}
	now := time.Now().UTC()
	draft.CourseID = t.courseID
	if t.draft != nil {
		draft.ID = t.draft.ID
		draft.CreatedAt = t.draft.CreatedAt
	} else {
		if draft.ID == "" {
			draft.ID = uuid.NewString()
		}
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now
	stored := cloneDraft(draft)
	t.draft = &stored
	return cloneDraft(stored), nil
}

func (t *memCourseTx) DeleteDraft(context.Context) error {
	if err := t.guard("DeleteDraft", true); err != nil {
		return err
	}
	t.draft = nil
	return nil
}

func cloneDraft(d Draft) Draft {
	d.Snapshot = d.Snapshot.Clone()
	d.ReviewComment = cloneString(d.ReviewComment)
	if d.SubmittedAt != nil {
		at := *d.SubmittedAt
		d.SubmittedAt = &at
	}
	return d
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	copied := *v
	return &copied
}
