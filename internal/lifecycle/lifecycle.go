// Package lifecycle holds the draft state machine and the rules deciding who
// may drive each transition. It performs no I/O.
package lifecycle

import (
	"fmt"

	"curricula/api/internal/rbac"
	"curricula/api/internal/store"
)

type State string

const (
	NoDraft         State = "NO_DRAFT"
	Draft           State = "DRAFT"
	PendingApproval State = "PENDING_APPROVAL"
)

type Event string

const (
	EventSave     Event = "save"
	EventSubmit   Event = "submit"
	EventWithdraw Event = "withdraw"
	EventApprove  Event = "approve"
	EventReject   Event = "reject"
	EventSaveLive Event = "saveLive"
)

const (
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNoDraft           = "NO_DRAFT"
	CodeDraftFrozen       = "DRAFT_FROZEN"
	CodeNotPending        = "NOT_PENDING"
	CodeReviewInProgress  = "REVIEW_IN_PROGRESS"
	CodeLiveChanged       = "LIVE_CHANGED"

	CodeForbidden      = "FORBIDDEN"
	CodeNotDraftAuthor = "NOT_DRAFT_AUTHOR"
)

type Actor struct {
	ID   string
	Name string
	Role rbac.Role
}

type StateError struct {
	Code  string
	From  State
	Event Event
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed from %s: %s", e.Event, e.From, e.Code)
}

// Unauthorized reports whether the transition failed because of who asked
// rather than the draft's state.
func (e *StateError) Unauthorized() bool {
	return e.Code == CodeForbidden || e.Code == CodeNotDraftAuthor
}

func StateOf(draft *store.Draft) State {
	if draft == nil {
		return NoDraft
	}
	if draft.Status == store.DraftStatusPendingApproval {
		return PendingApproval
	}
	return Draft
}

// Transition returns the state reached when actor fires ev from the given
// state. authorID is the current draft's author and is ignored in NoDraft.
func Transition(from State, ev Event, actor Actor, authorID string) (State, error) {
	fail := func(code string) (State, error) {
		return from, &StateError{Code: code, From: from, Event: ev}
	}

	switch ev {
	case EventSave:
		if from == NoDraft {
			if !rbac.Can(actor.Role, rbac.ActionPropose) {
				return fail(CodeForbidden)
			}
			return Draft, nil
		}
		if actor.ID != authorID {
			return fail(CodeNotDraftAuthor)
		}
		if from == PendingApproval {
			return fail(CodeDraftFrozen)
		}
		return Draft, nil

	case EventSubmit, EventWithdraw:
		if from == NoDraft {
			return fail(CodeNoDraft)
		}
		if actor.ID != authorID {
			return fail(CodeNotDraftAuthor)
		}
		if ev == EventSubmit && from == Draft {
			return PendingApproval, nil
		}
		if ev == EventWithdraw && from == PendingApproval {
			return Draft, nil
		}
		return fail(CodeInvalidTransition)

	case EventApprove, EventReject:
		if !rbac.Can(actor.Role, rbac.ActionReview) {
			return fail(CodeForbidden)
		}
		if from != PendingApproval {
			return fail(CodeNotPending)
		}
		if ev == EventApprove {
			return NoDraft, nil
		}
		return Draft, nil

	case EventSaveLive:
		if !rbac.Can(actor.Role, rbac.ActionEditLive) {
			return fail(CodeForbidden)
		}
		if from == PendingApproval {
			return fail(CodeReviewInProgress)
		}
		return from, nil
	}
	return fail(CodeInvalidTransition)
}

type Permissions struct {
	CanEditDraft bool `json:"canEditDraft"`
	CanSubmit    bool `json:"canSubmit"`
	CanWithdraw  bool `json:"canWithdraw"`
	CanReview    bool `json:"canReview"`
	CanEditLive  bool `json:"canEditLive"`
}

func PermissionsFor(state State, actor Actor, authorID string) Permissions {
	allowed := func(ev Event) bool {
		_, err := Transition(state, ev, actor, authorID)
		return err == nil
	}
	return Permissions{
		CanEditDraft: allowed(EventSave),
		CanSubmit:    allowed(EventSubmit),
		CanWithdraw:  allowed(EventWithdraw),
		CanReview:    allowed(EventApprove),
		CanEditLive:  allowed(EventSaveLive),
	}
}
