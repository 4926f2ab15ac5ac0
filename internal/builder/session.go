// Package builder is the editing session behind the curriculum builder. It
// keeps a working copy apart from the last persisted snapshot, autosaves
// drafts after a quiet period and reports a four-state save indicator.
package builder

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"curricula/api/internal/lifecycle"
	"curricula/api/internal/snapshot"
)

type Status string

const (
	StatusSaved   Status = "saved"
	StatusUnsaved Status = "unsaved"
	StatusSaving  Status = "saving"
	StatusError   Status = "error"
)

const DefaultDebounce = 900 * time.Millisecond

var (
	ErrNotLoaded   = errors.New("builder: session not loaded")
	ErrNotEditable = errors.New("builder: draft editing not permitted")
	ErrNotLiveEdit = errors.New("builder: live editing not permitted")
)

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Session)

func WithScheduler(s Scheduler) Option {
	return func(session *Session) { session.scheduler = s }
}

func WithDebounce(d time.Duration) Option {
	return func(session *Session) {
		if d > 0 {
			session.debounce = d
		}
	}
}

type Session struct {
	client    Client
	courseID  string
	actor     lifecycle.Actor
	scheduler Scheduler
	debounce  time.Duration

	mu          sync.Mutex
	loaded      bool
	state       lifecycle.State
	authorID    string
	perms       lifecycle.Permissions
	working     snapshot.Snapshot
	persistedFP string
	status      Status
	lastErr     error
	comment     *string
	selected    snapshot.NodeID

	timer    Timer
	timerGen uint64
	inflight chan struct{}
	pending  bool
}

func NewSession(client Client, courseID string, actor lifecycle.Actor, opts ...Option) *Session {
	s := &Session{
		client:    client,
		courseID:  courseID,
		actor:     actor,
		scheduler: clockScheduler{},
		debounce:  DefaultDebounce,
		status:    StatusSaved,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches the course and resets the working copy to the actor's own
// draft when there is one, otherwise to live content.
func (s *Session) Load(ctx context.Context) error {
	content, err := s.client.LoadContent(ctx, s.courseID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.loaded = true
	s.state = content.State
	s.perms = content.Permissions
	s.comment = nil
	s.authorID = ""
	base := content.Live
	if content.Draft != nil {
		s.authorID = content.Draft.AuthorID
		if content.Draft.AuthorID == s.actor.ID {
			s.comment = content.Draft.ReviewComment
			base = content.Draft.Snapshot
		}
	}
	s.working = withLocalIDs(base.Renumber())
	s.persistedFP = fingerprint(s.working)
	s.selected = snapshot.NodeID{}
	s.status = StatusSaved
	s.lastErr = nil
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error of the most recent failed save, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) State() lifecycle.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Permissions() lifecycle.Permissions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms
}

func (s *Session) ReviewComment() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comment
}

// Snapshot returns a renumbered copy of the working copy.
func (s *Session) Snapshot() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working.Renumber()
}

func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked()
}

func (s *Session) dirtyLocked() bool {
	return fingerprint(s.working) != s.persistedFP
}

// touchLocked runs after every edit.
func (s *Session) touchLocked() {
	if s.inflight == nil {
		if s.dirtyLocked() {
			s.status = StatusUnsaved
		} else {
			s.status = StatusSaved
		}
	} else if s.dirtyLocked() {
		s.status = StatusUnsaved
	}
	if s.perms.CanEditDraft {
		s.scheduleLocked(s.debounce)
	}
}

func (s *Session) scheduleLocked(d time.Duration) {
	s.stopTimerLocked()
	gen := s.timerGen
	s.timer = s.scheduler.AfterFunc(d, func() { s.autosave(gen) })
}

func (s *Session) stopTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) autosave(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timerGen++
	s.timer = nil
	if s.inflight != nil {
		s.pending = true
		s.mu.Unlock()
		return
	}
	if !s.perms.CanEditDraft || !s.dirtyLocked() {
		s.mu.Unlock()
		return
	}
	sent, done := s.beginSaveLocked()
	s.mu.Unlock()

	if err := s.runSave(context.Background(), sent, done); err != nil {
		log.Printf("builder: autosave course=%s: %v", s.courseID, err)
	}
}

// Save flushes the working copy as a draft right away, cancelling any pending
// autosave and waiting for one already in flight.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	s.stopTimerLocked()
	if err := s.waitIdleLocked(ctx); err != nil {
		return err
	}
	if !s.perms.CanEditDraft {
		s.mu.Unlock()
		return ErrNotEditable
	}
	s.pending = false
	if !s.dirtyLocked() && s.status != StatusError && s.state != lifecycle.NoDraft {
		s.mu.Unlock()
		return nil
	}
	sent, done := s.beginSaveLocked()
	s.mu.Unlock()
	return s.runSave(ctx, sent, done)
}

// waitIdleLocked blocks until no save is in flight. It is entered with s.mu
// held and returns with it held, except on error where the lock is released.
func (s *Session) waitIdleLocked(ctx context.Context) error {
	for s.inflight != nil {
		ch := s.inflight
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	return nil
}

func (s *Session) beginSaveLocked() (snapshot.Snapshot, chan struct{}) {
	done := make(chan struct{})
	s.inflight = done
	s.status = StatusSaving
	return s.working.Renumber(), done
}

func (s *Session) runSave(ctx context.Context, sent snapshot.Snapshot, done chan struct{}) error {
	draft, err := s.client.SaveDraft(ctx, s.courseID, snapshot.ToRaw(sent))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = nil
	close(done)

	if err != nil {
		s.lastErr = err
		s.status = StatusError
		switch {
		case !s.perms.CanEditDraft:
		case s.pending:
			s.pending = false
			s.scheduleLocked(0)
		case retryable(err):
			s.scheduleLocked(s.debounce)
		}
		return err
	}

	s.lastErr = nil
	s.persistedFP = fingerprint(sent)
	if s.state == lifecycle.NoDraft {
		s.state = lifecycle.Draft
		s.authorID = draft.AuthorID
		s.refreshPermsLocked()
	}
	s.comment = draft.ReviewComment
	if s.dirtyLocked() {
		s.status = StatusUnsaved
	} else {
		s.status = StatusSaved
	}
	if s.pending {
		s.pending = false
		s.scheduleLocked(0)
	}
	return nil
}

// retryable reports whether resending the same payload may succeed. Rejections
// from the API wait for the next edit instead.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled)
}

// Submit saves any outstanding edits and sends the draft for review.
func (s *Session) Submit(ctx context.Context) error {
	if err := s.Save(ctx); err != nil {
		return err
	}
	draft, err := s.client.SubmitDraft(ctx, s.courseID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.state = lifecycle.PendingApproval
	s.authorID = draft.AuthorID
	s.comment = nil
	s.refreshPermsLocked()
	return nil
}

func (s *Session) Withdraw(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	s.mu.Unlock()

	draft, err := s.client.WithdrawDraft(ctx, s.courseID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = lifecycle.Draft
	s.authorID = draft.AuthorID
	s.refreshPermsLocked()
	return nil
}

// SaveLive publishes the working copy directly. Server ids are adopted for
// nodes created in this session so the selection keeps pointing at them.
func (s *Session) SaveLive(ctx context.Context) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	s.stopTimerLocked()
	if err := s.waitIdleLocked(ctx); err != nil {
		return err
	}
	if !s.perms.CanEditLive {
		s.mu.Unlock()
		return ErrNotLiveEdit
	}
	sent, done := s.beginSaveLocked()
	s.mu.Unlock()

	live, err := s.client.SaveLive(ctx, s.courseID, snapshot.ToRaw(sent))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = nil
	close(done)
	if err != nil {
		s.lastErr = err
		s.status = StatusError
		return err
	}

	adopted := adoptedIDs(sent, live.Live)
	s.working = replaceIDs(s.working, adopted)
	if next, ok := adopted[s.selected]; ok {
		s.selected = next
	}
	s.lastErr = nil
	s.persistedFP = fingerprint(live.Live)
	if s.dirtyLocked() {
		s.status = StatusUnsaved
	} else {
		s.status = StatusSaved
	}
	return nil
}

func (s *Session) refreshPermsLocked() {
	s.perms = lifecycle.PermissionsFor(s.state, s.actor, s.authorID)
}

// Close stops any pending autosave without flushing it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

// fingerprint hashes the normalized working copy. Content that does not
// normalize yet is hashed as-is.
func fingerprint(s snapshot.Snapshot) string {
	normalized, err := snapshot.Normalize(snapshot.ToRaw(s))
	if err != nil {
		return snapshot.Fingerprint(s.Renumber())
	}
	return snapshot.Fingerprint(normalized)
}

// withLocalIDs gives every node without an id a local handle so it can be
// selected and edited.
func withLocalIDs(s snapshot.Snapshot) snapshot.Snapshot {
	for i := range s.Modules {
		if s.Modules[i].ID.IsZero() {
			s.Modules[i].ID = newLocalID()
		}
		for j := range s.Modules[i].Lessons {
			if s.Modules[i].Lessons[j].ID.IsZero() {
				s.Modules[i].Lessons[j].ID = newLocalID()
			}
		}
	}
	return s
}

// adoptedIDs pairs the local ids that were sent with the ids the server
// assigned at the same position.
func adoptedIDs(sent, live snapshot.Snapshot) map[snapshot.NodeID]snapshot.NodeID {
	out := map[snapshot.NodeID]snapshot.NodeID{}
	for i, module := range sent.Modules {
		if i >= len(live.Modules) {
			break
		}
		if module.ID.IsLocal() {
			out[module.ID] = live.Modules[i].ID
		}
		for j, lesson := range module.Lessons {
			if j >= len(live.Modules[i].Lessons) {
				break
			}
			if lesson.ID.IsLocal() {
				out[lesson.ID] = live.Modules[i].Lessons[j].ID
			}
		}
	}
	return out
}

func replaceIDs(s snapshot.Snapshot, ids map[snapshot.NodeID]snapshot.NodeID) snapshot.Snapshot {
	out := s.Clone()
	for i := range out.Modules {
		if next, ok := ids[out.Modules[i].ID]; ok {
			out.Modules[i].ID = next
		}
		for j := range out.Modules[i].Lessons {
			if next, ok := ids[out.Modules[i].Lessons[j].ID]; ok {
				out.Modules[i].Lessons[j].ID = next
			}
		}
	}
	return out
}
