package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"curricula/api/internal/snapshot"
)

var ErrNotFound = errors.New("not found")

type DraftStatus string

const (
	DraftStatusDraft           DraftStatus = "DRAFT"
	DraftStatusPendingApproval DraftStatus = "PENDING_APPROVAL"
)

type Module struct {
	ID        string
	CourseID  string
	Title     string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Lesson struct {
	ID          string
	ModuleID    string
	Title       string
	ContentType snapshot.ContentType
	ContentBody *string
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Draft is the single pending proposal for a course. BaseFingerprint is the
// live fingerprint captured when the draft was submitted.
type Draft struct {
	ID              string
	CourseID        string
	AuthorID        string
	Status          DraftStatus
	Snapshot        snapshot.Snapshot
	ReviewComment   *string
	BaseFingerprint string
	SubmittedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DependentCounts are the externally owned rows hanging off a module.
type DependentCounts struct {
	Assignments int
	Materials   int
	Recordings  int
}

func (c DependentCounts) Total() int {
	return c.Assignments + c.Materials + c.Recordings
}

// ContentTx is the course-scoped unit of work handed out by WithCourseTx and
// ViewCourse. Every method is scoped to the course the transaction was opened for.
type ContentTx interface {
	CourseID() string
	ListModules(ctx context.Context) ([]Module, error)
	ListLessons(ctx context.Context) ([]Lesson, error)
	InsertModule(ctx context.Context, module Module) (string, error)
	UpdateModule(ctx context.Context, module Module) error
	InsertLesson(ctx context.Context, lesson Lesson) (string, error)
	UpdateLesson(ctx context.Context, lesson Lesson) error
	DeleteLessons(ctx context.Context, ids []string) error
	DeleteModules(ctx context.Context, ids []string) error
	ModuleDependents(ctx context.Context, ids []string) (map[string]DependentCounts, error)
	LessonProgress(ctx context.Context, ids []string) (map[string]int, error)
	GetDraft(ctx context.Context) (*Draft, error)
	SaveDraft(ctx context.Context, draft Draft) (Draft, error)
	DeleteDraft(ctx context.Context) error
}

// TransientError marks failures of the underlying store itself (unreachable,
// pool exhausted) as opposed to failures of the statement being run.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}
