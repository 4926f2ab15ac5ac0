package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"curricula/api/internal/auth"
	"curricula/api/internal/cache"
	"curricula/api/internal/config"
	"curricula/api/internal/lifecycle"
	"curricula/api/internal/rbac"
	"curricula/api/internal/reconcile"
	"curricula/api/internal/search"
	"curricula/api/internal/snapshot"
	"curricula/api/internal/store"
)

type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewReject  ReviewAction = "reject"
)

type DraftView struct {
	ID              string            `json:"id"`
	CourseID        string            `json:"courseId"`
	AuthorID        string            `json:"authorId"`
	Status          store.DraftStatus `json:"status"`
	Snapshot        snapshot.Snapshot `json:"snapshot"`
	Fingerprint     string            `json:"fingerprint"`
	ReviewComment   *string           `json:"reviewComment"`
	BaseFingerprint string            `json:"baseFingerprint,omitempty"`
	SubmittedAt     *time.Time        `json:"submittedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type ContentView struct {
	CourseID        string                `json:"courseId"`
	State           lifecycle.State       `json:"state"`
	Live            snapshot.Snapshot     `json:"live"`
	LiveFingerprint string                `json:"liveFingerprint"`
	Draft           *DraftView            `json:"draft"`
	Summary         *snapshot.Summary     `json:"summary,omitempty"`
	LiveChanged     bool                  `json:"liveChanged"`
	Permissions     lifecycle.Permissions `json:"permissions"`
}

type LiveView struct {
	CourseID    string            `json:"courseId"`
	Live        snapshot.Snapshot `json:"live"`
	Fingerprint string            `json:"fingerprint"`
	Applied     ApplyCounts       `json:"applied"`
}

type ApplyCounts struct {
	ModulesCreated int `json:"modulesCreated"`
	ModulesUpdated int `json:"modulesUpdated"`
	ModulesDeleted int `json:"modulesDeleted"`
	LessonsCreated int `json:"lessonsCreated"`
	LessonsUpdated int `json:"lessonsUpdated"`
	LessonsDeleted int `json:"lessonsDeleted"`
}

type ReviewResult struct {
	Action ReviewAction    `json:"action"`
	State  lifecycle.State `json:"state"`
	Draft  *DraftView      `json:"draft,omitempty"`
	Live   *LiveView       `json:"live,omitempty"`
}

type QueueItem struct {
	CourseID    string           `json:"courseId"`
	DraftID     string           `json:"draftId"`
	AuthorID    string           `json:"authorId"`
	SubmittedAt *time.Time       `json:"submittedAt"`
	Summary     snapshot.Summary `json:"summary"`
	LiveChanged bool             `json:"liveChanged"`
}

type ContentStore interface {
	WithCourseTx(ctx context.Context, courseID string, fn func(store.ContentTx) error) error
	ViewCourse(ctx context.Context, courseID string, fn func(store.ContentTx) error) error
	ListPendingDrafts(ctx context.Context) ([]store.Draft, error)
	Ping(ctx context.Context) error
}

type SummaryCache interface {
	Get(ctx context.Context, courseID string) (cache.Entry, bool, error)
	Put(ctx context.Context, courseID string, entry cache.Entry) error
	Invalidate(ctx context.Context, courseID string) error
}

type CurriculumIndex interface {
	Search(q search.Query) search.Response
	ReindexCourse(courseID string, live snapshot.Snapshot, deletedModules, deletedLessons []string)
}

// Notifier hears about review events after they commit. Implementations must not block.
type Notifier interface {
	DraftSubmitted(courseID, authorName string, summary snapshot.Summary)
	ReviewDecided(courseID, reviewerName string, approved bool, comment string)
}

type Service struct {
	cfg      config.Config
	store    ContentStore
	reviews  SummaryCache
	index    CurriculumIndex
	notifier Notifier
	now      func() time.Time
}

// New wires the lifecycle service. reviews and index may be nil.
func New(cfg config.Config, contentStore ContentStore, reviews SummaryCache, index CurriculumIndex) *Service {
	return &Service{
		cfg:     cfg,
		store:   contentStore,
		reviews: reviews,
		index:   index,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier attaches review notifications. A nil notifier disables them.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Bootstrap seeds a course's live content when it is empty.
func (s *Service) Bootstrap(ctx context.Context, courseID string, seed snapshot.Snapshot) error {
	var applied *reconcile.Result
	err := s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		live, err := reconcile.ReadLive(ctx, tx)
		if err != nil {
			return err
		}
		if len(live.Modules) > 0 {
			return nil
		}
		res, err := reconcile.Apply(ctx, tx, seed)
		if err != nil {
			return err
		}
		applied = &res
		return nil
	})
	if err != nil {
		return fmt.Errorf("bootstrap course %s: %w", courseID, err)
	}
	if applied != nil {
		log.Printf("bootstrap: seeded course=%s modules=%d lessons=%d", courseID, applied.ModulesCreated, applied.LessonsCreated)
		s.reindex(courseID, *applied)
	}
	return nil
}

type BuilderSettings struct {
	AutosaveDebounceMs int64 `json:"autosaveDebounceMs"`
}

func (s *Service) BuilderSettings() BuilderSettings {
	return BuilderSettings{AutosaveDebounceMs: s.cfg.AutosaveDebounce.Milliseconds()}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ActorFromToken(token string) (lifecycle.Actor, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return lifecycle.Actor{}, err
	}
	return lifecycle.Actor{ID: claims.Subject, Name: claims.Name, Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) GetContent(ctx context.Context, courseID string, actor lifecycle.Actor) (ContentView, error) {
	if !rbac.Can(actor.Role, rbac.ActionRead) {
		return ContentView{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	var live snapshot.Snapshot
	var draft *store.Draft
	err := s.store.ViewCourse(ctx, courseID, func(tx store.ContentTx) error {
		var err error
		if live, err = reconcile.ReadLive(ctx, tx); err != nil {
			return err
		}
		draft, err = tx.GetDraft(ctx)
		return err
	})
	if err != nil {
		return ContentView{}, err
	}

	state := lifecycle.StateOf(draft)
	authorID := ""
	if draft != nil {
		authorID = draft.AuthorID
	}
	view := ContentView{
		CourseID:        courseID,
		State:           state,
		Live:            live,
		LiveFingerprint: snapshot.Fingerprint(live),
		Permissions:     lifecycle.PermissionsFor(state, actor, authorID),
	}
	if draft != nil && canSeeDraft(actor, *draft) {
		dv := toDraftView(*draft)
		summary := snapshot.ComputeDiff(live, draft.Snapshot)
		view.Draft = &dv
		view.Summary = &summary
		view.LiveChanged = draft.BaseFingerprint != "" && draft.BaseFingerprint != view.LiveFingerprint
	}
	return view, nil
}

func canSeeDraft(actor lifecycle.Actor, draft store.Draft) bool {
	return actor.ID == draft.AuthorID || rbac.Can(actor.Role, rbac.ActionReview)
}

func (s *Service) SaveDraft(ctx context.Context, courseID string, actor lifecycle.Actor, raw snapshot.RawSnapshot) (DraftView, error) {
	normalized, err := snapshot.Normalize(raw)
	if err != nil {
		return DraftView{}, err
	}

	var saved store.Draft
	err = s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		current, err := tx.GetDraft(ctx)
		if err != nil {
			return err
		}
		authorID := ""
		next := store.Draft{AuthorID: actor.ID}
		if current != nil {
			authorID = current.AuthorID
			next = *current
		}
		if _, err := lifecycle.Transition(lifecycle.StateOf(current), lifecycle.EventSave, actor, authorID); err != nil {
			return err
		}
		next.Status = store.DraftStatusDraft
		next.Snapshot = normalized
		saved, err = tx.SaveDraft(ctx, next)
		return err
	})
	if err != nil {
		return DraftView{}, err
	}

	s.invalidate(ctx, courseID)
	log.Printf("lifecycle: draft saved course=%s actor=%s status=%s lessons=%d", courseID, actor.ID, saved.Status, normalized.LessonCount())
	return toDraftView(saved), nil
}

func (s *Service) SubmitDraft(ctx context.Context, courseID string, actor lifecycle.Actor) (DraftView, error) {
	var saved store.Draft
	var summary snapshot.Summary
	err := s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		current, err := tx.GetDraft(ctx)
		if err != nil {
			return err
		}
		if _, err := lifecycle.Transition(lifecycle.StateOf(current), lifecycle.EventSubmit, actor, authorOf(current)); err != nil {
			return err
		}
		validated, err := snapshot.ValidateSnapshot(current.Snapshot)
		if err != nil {
			return err
		}
		live, err := reconcile.ReadLive(ctx, tx)
		if err != nil {
			return err
		}

		submittedAt := s.now()
		next := *current
		next.Status = store.DraftStatusPendingApproval
		next.Snapshot = validated
		next.ReviewComment = nil
		next.BaseFingerprint = snapshot.Fingerprint(live)
		next.SubmittedAt = &submittedAt
		summary = snapshot.ComputeDiff(live, validated)
		saved, err = tx.SaveDraft(ctx, next)
		return err
	})
	if err != nil {
		return DraftView{}, err
	}

	s.invalidate(ctx, courseID)
	if s.notifier != nil {
		s.notifier.DraftSubmitted(courseID, actor.Name, summary)
	}
	log.Printf("lifecycle: draft submitted course=%s actor=%s status=%s", courseID, actor.ID, saved.Status)
	return toDraftView(saved), nil
}

func (s *Service) WithdrawDraft(ctx context.Context, courseID string, actor lifecycle.Actor) (DraftView, error) {
	var saved store.Draft
	err := s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		current, err := tx.GetDraft(ctx)
		if err != nil {
			return err
		}
		if _, err := lifecycle.Transition(lifecycle.StateOf(current), lifecycle.EventWithdraw, actor, authorOf(current)); err != nil {
			return err
		}
		next := *current
		next.Status = store.DraftStatusDraft
		next.BaseFingerprint = ""
		next.SubmittedAt = nil
		saved, err = tx.SaveDraft(ctx, next)
		return err
	})
	if err != nil {
		return DraftView{}, err
	}

	s.invalidate(ctx, courseID)
	log.Printf("lifecycle: draft withdrawn course=%s actor=%s status=%s", courseID, actor.ID, saved.Status)
	return toDraftView(saved), nil
}

func (s *Service) ReviewDraft(ctx context.Context, courseID string, actor lifecycle.Actor, action ReviewAction, comment string) (ReviewResult, error) {
	action = ReviewAction(strings.ToLower(strings.TrimSpace(string(action))))
	switch action {
	case ReviewApprove:
		return s.approve(ctx, courseID, actor)
	case ReviewReject:
		return s.reject(ctx, courseID, actor, comment)
	default:
		return ReviewResult{}, domainError(http.StatusBadRequest, "INVALID_ACTION", "action must be approve or reject", map[string]any{"action": action})
	}
}

func (s *Service) approve(ctx context.Context, courseID string, actor lifecycle.Actor) (ReviewResult, error) {
	var applied reconcile.Result
	err := s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		current, err := tx.GetDraft(ctx)
		if err != nil {
			return err
		}
		from := lifecycle.StateOf(current)
		if _, err := lifecycle.Transition(from, lifecycle.EventApprove, actor, authorOf(current)); err != nil {
			return err
		}

		live, err := reconcile.ReadLive(ctx, tx)
		if err != nil {
			return err
		}
		if current.BaseFingerprint != "" && snapshot.Fingerprint(live) != current.BaseFingerprint {
			return &lifecycle.StateError{Code: lifecycle.CodeLiveChanged, From: from, Event: lifecycle.EventApprove}
		}

		if applied, err = reconcile.Apply(ctx, tx, current.Snapshot); err != nil {
			return err
		}
		return tx.DeleteDraft(ctx)
	})
	if err != nil {
		return ReviewResult{}, err
	}

	s.invalidate(ctx, courseID)
	s.reindex(courseID, applied)
	if s.notifier != nil {
		s.notifier.ReviewDecided(courseID, actor.Name, true, "")
	}
	log.Printf("lifecycle: draft approved course=%s reviewer=%s status=%s %s", courseID, actor.ID, lifecycle.NoDraft, applyLog(applied))
	live := toLiveView(courseID, applied)
	return ReviewResult{Action: ReviewApprove, State: lifecycle.NoDraft, Live: &live}, nil
}

func (s *Service) reject(ctx context.Context, courseID string, actor lifecycle.Actor, comment string) (ReviewResult, error) {
	comment = strings.TrimSpace(comment)
	var saved store.Draft
	err := s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		current, err := tx.GetDraft(ctx)
		if err != nil {
			return err
		}
		if _, err := lifecycle.Transition(lifecycle.StateOf(current), lifecycle.EventReject, actor, authorOf(current)); err != nil {
			return err
		}
		if comment == "" {
			return snapshot.NewValidationError(snapshot.CodeCommentRequired, "comment", "a comment is required to reject a draft")
		}
		next := *current
		next.Status = store.DraftStatusDraft
		next.ReviewComment = &comment
		next.BaseFingerprint = ""
		next.SubmittedAt = nil
		saved, err = tx.SaveDraft(ctx, next)
		return err
	})
	if err != nil {
		return ReviewResult{}, err
	}

	s.invalidate(ctx, courseID)
	if s.notifier != nil {
		s.notifier.ReviewDecided(courseID, actor.Name, false, comment)
	}
	log.Printf("lifecycle: draft rejected course=%s reviewer=%s status=%s", courseID, actor.ID, saved.Status)
	dv := toDraftView(saved)
	return ReviewResult{Action: ReviewReject, State: lifecycle.Draft, Draft: &dv}, nil
}

func (s *Service) SaveLive(ctx context.Context, courseID string, actor lifecycle.Actor, raw snapshot.RawSnapshot) (LiveView, error) {
	validated, err := snapshot.ValidateForSubmit(raw)
	if err != nil {
		return LiveView{}, err
	}

	var applied reconcile.Result
	err = s.store.WithCourseTx(ctx, courseID, func(tx store.ContentTx) error {
		current, err := tx.GetDraft(ctx)
		if err != nil {
			return err
		}
		if _, err := lifecycle.Transition(lifecycle.StateOf(current), lifecycle.EventSaveLive, actor, authorOf(current)); err != nil {
			return err
		}
		applied, err = reconcile.Apply(ctx, tx, validated)
		return err
	})
	if err != nil {
		return LiveView{}, err
	}

	s.invalidate(ctx, courseID)
	s.reindex(courseID, applied)
	log.Printf("lifecycle: live saved course=%s actor=%s %s", courseID, actor.ID, applyLog(applied))
	return toLiveView(courseID, applied), nil
}

func (s *Service) ReviewQueue(ctx context.Context, actor lifecycle.Actor) ([]QueueItem, error) {
	if !rbac.Can(actor.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	drafts, err := s.store.ListPendingDrafts(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]QueueItem, 0, len(drafts))
	for _, draft := range drafts {
		entry, err := s.reviewSummary(ctx, draft)
		if err != nil {
			return nil, err
		}
		items = append(items, QueueItem{
			CourseID:    draft.CourseID,
			DraftID:     draft.ID,
			AuthorID:    draft.AuthorID,
			SubmittedAt: draft.SubmittedAt,
			Summary:     entry.Summary,
			LiveChanged: draft.BaseFingerprint != "" && draft.BaseFingerprint != entry.LiveFingerprint,
		})
	}
	return items, nil
}

func (s *Service) reviewSummary(ctx context.Context, draft store.Draft) (cache.Entry, error) {
	draftFingerprint := snapshot.Fingerprint(draft.Snapshot)
	if s.reviews != nil {
		entry, ok, err := s.reviews.Get(ctx, draft.CourseID)
		if err != nil {
			log.Printf("cache: review summary lookup course=%s: %v", draft.CourseID, err)
		} else if ok && entry.DraftFingerprint == draftFingerprint {
			return entry, nil
		}
	}

	var live snapshot.Snapshot
	err := s.store.ViewCourse(ctx, draft.CourseID, func(tx store.ContentTx) error {
		var err error
		live, err = reconcile.ReadLive(ctx, tx)
		return err
	})
	if err != nil {
		return cache.Entry{}, err
	}

	entry := cache.Entry{
		Summary:          snapshot.ComputeDiff(live, draft.Snapshot),
		LiveFingerprint:  snapshot.Fingerprint(live),
		DraftFingerprint: draftFingerprint,
		ComputedAt:       s.now(),
	}
	if s.reviews != nil {
		if err := s.reviews.Put(ctx, draft.CourseID, entry); err != nil {
			log.Printf("cache: review summary store course=%s: %v", draft.CourseID, err)
		}
	}
	return entry, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(q.Text)}
	}
	return s.index.Search(q)
}

func (s *Service) invalidate(ctx context.Context, courseID string) {
	if s.reviews == nil {
		return
	}
	if err := s.reviews.Invalidate(ctx, courseID); err != nil {
		log.Printf("cache: invalidate course=%s: %v", courseID, err)
	}
}

func (s *Service) reindex(courseID string, applied reconcile.Result) {
	if s.index == nil {
		return
	}
	s.index.ReindexCourse(courseID, applied.Live, applied.DeletedModules, applied.DeletedLessons)
}

func authorOf(draft *store.Draft) string {
	if draft == nil {
		return ""
	}
	return draft.AuthorID
}

func toDraftView(d store.Draft) DraftView {
	return DraftView{
		ID:              d.ID,
		CourseID:        d.CourseID,
		AuthorID:        d.AuthorID,
		Status:          d.Status,
		Snapshot:        d.Snapshot,
		Fingerprint:     snapshot.Fingerprint(d.Snapshot),
		ReviewComment:   d.ReviewComment,
		BaseFingerprint: d.BaseFingerprint,
		SubmittedAt:     d.SubmittedAt,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func toLiveView(courseID string, res reconcile.Result) LiveView {
	return LiveView{
		CourseID:    courseID,
		Live:        res.Live,
		Fingerprint: snapshot.Fingerprint(res.Live),
		Applied: ApplyCounts{
			ModulesCreated: res.ModulesCreated,
			ModulesUpdated: res.ModulesUpdated,
			ModulesDeleted: res.ModulesDeleted,
			LessonsCreated: res.LessonsCreated,
			LessonsUpdated: res.LessonsUpdated,
			LessonsDeleted: res.LessonsDeleted,
		},
	}
}

func applyLog(res reconcile.Result) string {
	return fmt.Sprintf("modules=+%d~%d-%d lessons=+%d~%d-%d",
		res.ModulesCreated, res.ModulesUpdated, res.ModulesDeleted,
		res.LessonsCreated, res.LessonsUpdated, res.LessonsDeleted)
}
