package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"curricula/api/internal/cache"
	"curricula/api/internal/config"
	"curricula/api/internal/lifecycle"
	"curricula/api/internal/rbac"
	"curricula/api/internal/reconcile"
	"curricula/api/internal/search"
	"curricula/api/internal/snapshot"
	"curricula/api/internal/store"
)

const testCourse = "course-1"

var (
	mentor      = lifecycle.Actor{ID: "mentor-1", Name: "Mina", Role: rbac.RoleMentor}
	otherMentor = lifecycle.Actor{ID: "mentor-2", Name: "Omar", Role: rbac.RoleMentor}
	reviewer    = lifecycle.Actor{ID: "reviewer-1", Name: "Rae", Role: rbac.RoleReviewer}
	admin       = lifecycle.Actor{ID: "admin-1", Name: "Ada", Role: rbac.RoleAdmin}
	viewer      = lifecycle.Actor{ID: "viewer-1", Name: "Val", Role: rbac.RoleViewer}
)

func strPtr(v string) *string { return &v }

func seedSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{Modules: []snapshot.Module{
		{Title: "Getting started", Lessons: []snapshot.Lesson{
			{Title: "Welcome", ContentType: snapshot.ContentText, ContentBody: strPtr("Hello")},
			{Title: "Tooling", ContentType: snapshot.ContentVideo, ContentBody: strPtr("https://videos.example.com/tooling")},
		}},
		{Title: "Core ideas", Lessons: []snapshot.Lesson{
			{Title: "State", ContentType: snapshot.ContentText},
		}},
	}}
}

type fakeSummaryCache struct {
	mu          sync.Mutex
	entries     map[string]cache.Entry
	gets        int
	puts        int
	invalidated []string
}

func newFakeSummaryCache() *fakeSummaryCache {
	return &fakeSummaryCache{entries: map[string]cache.Entry{}}
}

func (f *fakeSummaryCache) Get(_ context.Context, courseID string) (cache.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	entry, ok := f.entries[courseID]
	return entry, ok, nil
}

func (f *fakeSummaryCache) Put(_ context.Context, courseID string, entry cache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.entries[courseID] = entry
	return nil
}

func (f *fakeSummaryCache) Invalidate(_ context.Context, courseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, courseID)
	delete(f.entries, courseID)
	return nil
}

type fakeIndex struct {
	mu        sync.Mutex
	reindexed []snapshot.Snapshot
	deleted   []string
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{{ID: "lesson-x", Title: "hit"}}, Total: 1, Query: q.Text}
}

func (f *fakeIndex) ReindexCourse(_ string, live snapshot.Snapshot, deletedModules, deletedLessons []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed = append(f.reindexed, live)
	f.deleted = append(f.deleted, deletedModules...)
	f.deleted = append(f.deleted, deletedLessons...)
}

type fixture struct {
	store   *store.MemoryStore
	reviews *fakeSummaryCache
	index   *fakeIndex
	svc     *Service
	live    snapshot.Snapshot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.AddCourse(testCourse)
	f := &fixture{store: mem, reviews: newFakeSummaryCache(), index: &fakeIndex{}}
	f.svc = New(config.Config{JWTSecret: "test-secret"}, mem, f.reviews, f.index)
	if err := f.svc.Bootstrap(context.Background(), testCourse, seedSnapshot()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	view, err := f.svc.GetContent(context.Background(), testCourse, admin)
	if err != nil {
		t.Fatalf("read seeded content: %v", err)
	}
	f.live = view.Live
	return f
}

// proposal renames the first module, drops the "State" lesson and adds a new one.
func (f *fixture) proposal() snapshot.RawSnapshot {
	next := f.live.Clone()
	next.Modules[0].Title = "Orientation"
	next.Modules[1].Lessons = []snapshot.Lesson{
		{ID: snapshot.Local("tmp-1"), Title: "Effects", ContentType: snapshot.ContentText, ContentBody: strPtr("Side effects")},
	}
	return snapshot.ToRaw(next)
}

func (f *fixture) submitProposal(t *testing.T) DraftView {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.SaveDraft(ctx, testCourse, mentor, f.proposal()); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	draft, err := f.svc.SubmitDraft(ctx, testCourse, mentor)
	if err != nil {
		t.Fatalf("submit draft: %v", err)
	}
	return draft
}

func stateCode(err error) string {
	var stateErr *lifecycle.StateError
	if errors.As(err, &stateErr) {
		return stateErr.Code
	}
	return ""
}

func TestBootstrapSeedsOnlyEmptyCourses(t *testing.T) {
	f := newFixture(t)
	if len(f.live.Modules) != 2 || f.live.LessonCount() != 3 {
		t.Fatalf("unexpected seeded live: %+v", f.live)
	}
	if len(f.index.reindexed) != 1 {
		t.Fatalf("expected seed to reindex once, got %d", len(f.index.reindexed))
	}

	if err := f.svc.Bootstrap(context.Background(), testCourse, snapshot.Snapshot{Modules: []snapshot.Module{{Title: "Other"}}}); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	view, _ := f.svc.GetContent(context.Background(), testCourse, admin)
	if snapshot.Fingerprint(view.Live) != snapshot.Fingerprint(f.live) {
		t.Fatalf("expected bootstrap to leave non-empty course untouched")
	}
}

func TestDraftLifecycleApprovePublishesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submitted := f.submitProposal(t)
	if submitted.Status != store.DraftStatusPendingApproval {
		t.Fatalf("expected pending draft, got %s", submitted.Status)
	}
	if submitted.BaseFingerprint != snapshot.Fingerprint(f.live) {
		t.Fatalf("expected base fingerprint to capture live at submit time")
	}

	result, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, "approve", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if result.State != lifecycle.NoDraft || result.Live == nil {
		t.Fatalf("unexpected approve result: %+v", result)
	}
	if result.Live.Applied.LessonsCreated != 1 || result.Live.Applied.LessonsDeleted != 1 || result.Live.Applied.ModulesUpdated != 1 {
		t.Fatalf("unexpected apply counts: %+v", result.Live.Applied)
	}

	view, err := f.svc.GetContent(ctx, testCourse, mentor)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	if view.State != lifecycle.NoDraft || view.Draft != nil {
		t.Fatalf("expected draft to be consumed, got state=%s", view.State)
	}
	if view.Live.Modules[0].Title != "Orientation" {
		t.Fatalf("expected renamed module, got %q", view.Live.Modules[0].Title)
	}
	if view.Live.Modules[0].ID != f.live.Modules[0].ID {
		t.Fatalf("expected module identity to survive approval")
	}
	if got := view.Live.Modules[1].Lessons[0]; got.Title != "Effects" || !got.ID.IsPersisted() {
		t.Fatalf("unexpected new lesson: %+v", got)
	}
	if len(f.index.reindexed) != 2 || len(f.index.deleted) != 1 {
		t.Fatalf("expected approve to reindex and drop one lesson, got reindexed=%d deleted=%v", len(f.index.reindexed), f.index.deleted)
	}
}

func TestSaveDraftIsLenientButSubmitIsStrict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw := f.proposal()
	raw.Modules[1].Lessons = append(raw.Modules[1].Lessons, snapshot.RawLesson{
		Title:       strPtr("  "),
		ContentType: "video",
	})
	saved, err := f.svc.SaveDraft(ctx, testCourse, mentor, raw)
	if err != nil {
		t.Fatalf("expected incomplete draft to save, got %v", err)
	}
	if saved.Status != store.DraftStatusDraft {
		t.Fatalf("expected DRAFT status, got %s", saved.Status)
	}

	_, err = f.svc.SubmitDraft(ctx, testCourse, mentor)
	var validationErr *snapshot.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validationErr.Code != snapshot.CodeEmptyTitle || len(validationErr.Issues) != 2 {
		t.Fatalf("unexpected issues: %+v", validationErr.Issues)
	}

	view, _ := f.svc.GetContent(ctx, testCourse, mentor)
	if view.State != lifecycle.Draft {
		t.Fatalf("expected failed submit to leave draft editable, got %s", view.State)
	}
}

func TestSaveDraftRejectsDuplicateIDs(t *testing.T) {
	f := newFixture(t)
	raw := snapshot.ToRaw(f.live)
	raw.Modules[1].ID = raw.Modules[0].ID

	_, err := f.svc.SaveDraft(context.Background(), testCourse, mentor, raw)
	if !snapshot.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPendingDraftIsFrozen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitProposal(t)

	if _, err := f.svc.SaveDraft(ctx, testCourse, mentor, f.proposal()); stateCode(err) != lifecycle.CodeDraftFrozen {
		t.Fatalf("expected DRAFT_FROZEN, got %v", err)
	}
	if _, err := f.svc.SaveLive(ctx, testCourse, admin, snapshot.ToRaw(f.live)); stateCode(err) != lifecycle.CodeReviewInProgress {
		t.Fatalf("expected REVIEW_IN_PROGRESS, got %v", err)
	}

	withdrawn, err := f.svc.WithdrawDraft(ctx, testCourse, mentor)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Status != store.DraftStatusDraft || withdrawn.SubmittedAt != nil || withdrawn.BaseFingerprint != "" {
		t.Fatalf("unexpected withdrawn draft: %+v", withdrawn)
	}
	if _, err := f.svc.SaveDraft(ctx, testCourse, mentor, f.proposal()); err != nil {
		t.Fatalf("expected withdrawn draft to be editable, got %v", err)
	}
}

func TestOnlyAuthorMayDriveDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SaveDraft(ctx, testCourse, mentor, f.proposal()); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	if _, err := f.svc.SaveDraft(ctx, testCourse, otherMentor, f.proposal()); stateCode(err) != lifecycle.CodeNotDraftAuthor {
		t.Fatalf("expected NOT_DRAFT_AUTHOR on save, got %v", err)
	}
	if _, err := f.svc.SubmitDraft(ctx, testCourse, otherMentor); stateCode(err) != lifecycle.CodeNotDraftAuthor {
		t.Fatalf("expected NOT_DRAFT_AUTHOR on submit, got %v", err)
	}
	if _, err := f.svc.SaveDraft(context.Background(), testCourse, viewer, f.proposal()); stateCode(err) != lifecycle.CodeNotDraftAuthor {
		t.Fatalf("expected viewer to be refused, got %v", err)
	}

	other, err := f.svc.GetContent(ctx, testCourse, otherMentor)
	if err != nil {
		t.Fatalf("get content: %v", err)
	}
	if other.Draft != nil || other.Summary != nil {
		t.Fatalf("expected draft to be hidden from other mentors")
	}
	if other.State != lifecycle.Draft || other.Permissions.CanEditDraft {
		t.Fatalf("unexpected view for other mentor: state=%s perms=%+v", other.State, other.Permissions)
	}

	own, _ := f.svc.GetContent(ctx, testCourse, mentor)
	if own.Draft == nil || own.Summary == nil || !own.Permissions.CanSubmit {
		t.Fatalf("expected author to see own draft with submit permission")
	}
	if own.Summary.ModulesUpdated != 1 || own.Summary.LessonsAdded != 1 || own.Summary.LessonsRemoved != 1 {
		t.Fatalf("unexpected summary: %+v", *own.Summary)
	}
}

func TestViewerCannotStartDraft(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveDraft(context.Background(), testCourse, viewer, f.proposal())
	if stateCode(err) != lifecycle.CodeForbidden {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func TestRejectRequiresCommentAndReturnsDraftToAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitProposal(t)

	_, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewReject, "   ")
	var validationErr *snapshot.ValidationError
	if !errors.As(err, &validationErr) || validationErr.Code != snapshot.CodeCommentRequired {
		t.Fatalf("expected CommentRequired, got %v", err)
	}

	result, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewReject, "  Please add a quiz  ")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if result.State != lifecycle.Draft || result.Draft == nil {
		t.Fatalf("unexpected reject result: %+v", result)
	}
	if result.Draft.ReviewComment == nil || *result.Draft.ReviewComment != "Please add a quiz" {
		t.Fatalf("expected trimmed review comment, got %v", result.Draft.ReviewComment)
	}

	view, _ := f.svc.GetContent(ctx, testCourse, admin)
	if snapshot.Fingerprint(view.Live) != snapshot.Fingerprint(f.live) {
		t.Fatalf("expected reject to leave live content untouched")
	}

	if _, err := f.svc.SubmitDraft(ctx, testCourse, mentor); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	view, _ = f.svc.GetContent(ctx, testCourse, mentor)
	if view.Draft.ReviewComment != nil {
		t.Fatalf("expected resubmit to clear the review comment")
	}
}

func TestReviewRequiresReviewerAndPendingDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewApprove, ""); stateCode(err) != lifecycle.CodeNotPending {
		t.Fatalf("expected NOT_PENDING without a draft, got %v", err)
	}
	f.submitProposal(t)
	if _, err := f.svc.ReviewDraft(ctx, testCourse, mentor, ReviewApprove, ""); stateCode(err) != lifecycle.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for mentor, got %v", err)
	}

	_, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, "merge", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_ACTION" {
		t.Fatalf("expected INVALID_ACTION, got %v", err)
	}
}

func TestApproveRefusesWhenLiveChangedSinceSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitProposal(t)

	// Live moves underneath the pending draft, bypassing the lifecycle.
	err := f.store.WithCourseTx(ctx, testCourse, func(tx store.ContentTx) error {
		changed := f.live.Clone()
		changed.Modules[1].Title = "Edited elsewhere"
		_, err := reconcile.Apply(ctx, tx, changed)
		return err
	})
	if err != nil {
		t.Fatalf("out-of-band edit: %v", err)
	}

	view, _ := f.svc.GetContent(ctx, testCourse, reviewer)
	if !view.LiveChanged {
		t.Fatalf("expected content view to flag live change")
	}

	_, err = f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewApprove, "")
	if stateCode(err) != lifecycle.CodeLiveChanged {
		t.Fatalf("expected LIVE_CHANGED, got %v", err)
	}
	view, _ = f.svc.GetContent(ctx, testCourse, reviewer)
	if view.State != lifecycle.PendingApproval {
		t.Fatalf("expected draft to stay pending, got %s", view.State)
	}
}

func TestApproveBlockedByDependentsLeavesEverythingInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stateLesson := f.live.Modules[1].Lessons[0].ID.PersistedID()
	f.store.SetLessonProgress(stateLesson, 4)
	f.submitProposal(t)

	_, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewApprove, "")
	var depErr *reconcile.DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if len(depErr.Lessons) != 1 || depErr.Lessons[0].ID != stateLesson || depErr.Lessons[0].ProgressRows != 4 {
		t.Fatalf("unexpected blocked lessons: %+v", depErr.Lessons)
	}

	view, _ := f.svc.GetContent(ctx, testCourse, reviewer)
	if view.State != lifecycle.PendingApproval {
		t.Fatalf("expected draft to stay pending, got %s", view.State)
	}
	if snapshot.Fingerprint(view.Live) != snapshot.Fingerprint(f.live) {
		t.Fatalf("expected live content to be unchanged")
	}
}

func TestSaveLiveRequiresAdminAndValidContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target := f.live.Clone()
	target.Modules = append(target.Modules, snapshot.Module{ID: snapshot.Local("new"), Title: "Wrap up"})
	raw := snapshot.ToRaw(target)

	if _, err := f.svc.SaveLive(ctx, testCourse, reviewer, raw); stateCode(err) != lifecycle.CodeForbidden {
		t.Fatalf("expected FORBIDDEN for reviewer, got %v", err)
	}

	bad := snapshot.ToRaw(f.live)
	bad.Modules[0].Lessons[1].ContentBody = strPtr("not a url")
	if _, err := f.svc.SaveLive(ctx, testCourse, admin, bad); !snapshot.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	live, err := f.svc.SaveLive(ctx, testCourse, admin, raw)
	if err != nil {
		t.Fatalf("save live: %v", err)
	}
	if live.Applied.ModulesCreated != 1 || len(live.Live.Modules) != 3 {
		t.Fatalf("unexpected live result: %+v", live.Applied)
	}
	if live.Fingerprint != snapshot.Fingerprint(live.Live) {
		t.Fatalf("expected fingerprint of returned live")
	}
}

func TestSaveLiveAllowedAlongsideOpenDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.SaveDraft(ctx, testCourse, mentor, f.proposal()); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if _, err := f.svc.SaveLive(ctx, testCourse, admin, snapshot.ToRaw(f.live)); err != nil {
		t.Fatalf("expected live edit beside an unsubmitted draft, got %v", err)
	}
	view, _ := f.svc.GetContent(ctx, testCourse, mentor)
	if view.State != lifecycle.Draft {
		t.Fatalf("expected draft to survive live edit, got %s", view.State)
	}
}

func TestReviewQueueCachesSummaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitProposal(t)

	if _, err := f.svc.ReviewQueue(ctx, mentor); err == nil {
		t.Fatalf("expected mentor to be refused the review queue")
	}

	items, err := f.svc.ReviewQueue(ctx, reviewer)
	if err != nil {
		t.Fatalf("review queue: %v", err)
	}
	if len(items) != 1 || items[0].CourseID != testCourse || items[0].AuthorID != mentor.ID {
		t.Fatalf("unexpected queue: %+v", items)
	}
	if !items[0].Summary.HasChanges || items[0].LiveChanged {
		t.Fatalf("unexpected summary: %+v", items[0])
	}
	if f.reviews.puts != 1 {
		t.Fatalf("expected summary to be cached once, got %d", f.reviews.puts)
	}

	if _, err := f.svc.ReviewQueue(ctx, reviewer); err != nil {
		t.Fatalf("second review queue: %v", err)
	}
	if f.reviews.puts != 1 {
		t.Fatalf("expected cached summary to be reused, puts=%d", f.reviews.puts)
	}

	if _, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, ok := f.reviews.entries[testCourse]; ok {
		t.Fatalf("expected approve to invalidate the cached summary")
	}
	items, _ = f.svc.ReviewQueue(ctx, reviewer)
	if len(items) != 0 {
		t.Fatalf("expected empty queue after approval, got %d", len(items))
	}
}

func TestReviewQueueIgnoresStaleCacheEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submitProposal(t)
	f.reviews.entries[testCourse] = cache.Entry{
		Summary:          snapshot.Summary{ModulesAdded: 99, HasChanges: true},
		DraftFingerprint: "stale",
	}

	items, err := f.svc.ReviewQueue(ctx, reviewer)
	if err != nil {
		t.Fatalf("review queue: %v", err)
	}
	if items[0].Summary.ModulesAdded != 0 {
		t.Fatalf("expected summary to be recomputed, got %+v", items[0].Summary)
	}
}

func TestServiceWorksWithoutCacheOrIndex(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.AddCourse(testCourse)
	svc := New(config.Config{}, mem, nil, nil)
	ctx := context.Background()

	if err := svc.Bootstrap(ctx, testCourse, seedSnapshot()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	view, _ := svc.GetContent(ctx, testCourse, mentor)
	if _, err := svc.SaveDraft(ctx, testCourse, mentor, snapshot.ToRaw(view.Live)); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if _, err := svc.SubmitDraft(ctx, testCourse, mentor); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.ReviewQueue(ctx, reviewer); err != nil {
		t.Fatalf("review queue: %v", err)
	}
	if res := svc.Search(search.Query{Text: " state "}); len(res.Results) != 0 || res.Query != "state" {
		t.Fatalf("unexpected search response: %+v", res)
	}
}

func TestUnknownCourseIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetContent(context.Background(), "missing", mentor)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type notice struct {
	course   string
	actor    string
	approved bool
	comment  string
	summary  *snapshot.Summary
}

type fakeNotifier struct {
	notices []notice
}

func (f *fakeNotifier) DraftSubmitted(courseID, authorName string, summary snapshot.Summary) {
	f.notices = append(f.notices, notice{course: courseID, actor: authorName, summary: &summary})
}

func (f *fakeNotifier) ReviewDecided(courseID, reviewerName string, approved bool, comment string) {
	f.notices = append(f.notices, notice{course: courseID, actor: reviewerName, approved: approved, comment: comment})
}

func TestReviewEventsReachNotifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifier := &fakeNotifier{}
	f.svc.SetNotifier(notifier)

	f.submitProposal(t)
	if _, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewReject, " needs a quiz "); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.svc.SubmitDraft(ctx, testCourse, mentor); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if _, err := f.svc.ReviewDraft(ctx, testCourse, reviewer, ReviewApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if len(notifier.notices) != 4 {
		t.Fatalf("expected 4 notices, got %d: %+v", len(notifier.notices), notifier.notices)
	}
	submitted := notifier.notices[0]
	if submitted.actor != mentor.Name || submitted.summary == nil {
		t.Fatalf("unexpected submit notice: %+v", submitted)
	}
	if submitted.summary.ModulesUpdated != 1 || submitted.summary.LessonsAdded != 1 || submitted.summary.LessonsRemoved != 1 {
		t.Fatalf("unexpected submit summary: %+v", *submitted.summary)
	}
	rejected := notifier.notices[1]
	if rejected.approved || rejected.comment != "needs a quiz" || rejected.actor != reviewer.Name {
		t.Fatalf("unexpected reject notice: %+v", rejected)
	}
	if approved := notifier.notices[3]; !approved.approved || approved.course != testCourse {
		t.Fatalf("unexpected approve notice: %+v", approved)
	}
}

func TestFailedTransitionsDoNotNotify(t *testing.T) {
	f := newFixture(t)
	notifier := &fakeNotifier{}
	f.svc.SetNotifier(notifier)

	if _, err := f.svc.SubmitDraft(context.Background(), testCourse, mentor); err == nil {
		t.Fatalf("expected submit without a draft to fail")
	}
	if len(notifier.notices) != 0 {
		t.Fatalf("expected no notices, got %+v", notifier.notices)
	}
}
