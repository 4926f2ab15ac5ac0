package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"curricula/api/internal/snapshot"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the store needs; pgxmock pools satisfy it too.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return &TransientError{Op: "ping", Err: err}
	}
	return nil
}

// WithCourseTx runs fn inside one transaction holding the course's advisory
// lock. The transaction commits only when fn returns nil; any error or panic
// rolls it back, so a failed reconciliation leaves no partial writes.
func (s *PostgresStore) WithCourseTx(ctx context.Context, courseID string, fn func(ContentTx) error) error {
	return s.run(ctx, courseID, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, true, fn)
}

// ViewCourse runs fn in a read-only transaction without taking the course lock.
func (s *PostgresStore) ViewCourse(ctx context.Context, courseID string, fn func(ContentTx) error) error {
	return s.run(ctx, courseID, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *PostgresStore) run(ctx context.Context, courseID string, opts pgx.TxOptions, lock bool, fn func(ContentTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return &TransientError{Op: "begin course tx", Err: err}
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if lock {
		if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, courseID); err != nil {
			return classify("lock course", err)
		}
	}

	var exists bool
	if err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM courses WHERE id=$1)`, courseID).Scan(&exists); err != nil {
		return classify("check course", err)
	}
	if !exists {
		return fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}

	if err = fn(&pgCourseTx{tx: tx, courseID: courseID}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return classify("commit course tx", err)
	}
	return nil
}

func (s *PostgresStore) ListPendingDrafts(ctx context.Context) ([]Draft, error) {
	rows, err := s.db.Query(ctx, selectDraft+` WHERE status='PENDING_APPROVAL' ORDER BY submitted_at ASC`)
	if err != nil {
		return nil, classify("list pending drafts", err)
	}
	defer rows.Close()

	items := make([]Draft, 0)
	for rows.Next() {
		item, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending drafts: %w", err)
	}
	return items, nil
}

func classify(op string, err error) error {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type pgCourseTx struct {
	tx       pgx.Tx
	courseID string
}

func (t *pgCourseTx) CourseID() string { return t.courseID }

func (t *pgCourseTx) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, course_id, title, position, created_at, updated_at
		FROM course_modules
		WHERE course_id=$1
		ORDER BY position ASC, created_at ASC
	`, t.courseID)
	if err != nil {
		return nil, classify("list modules", err)
	}
	defer rows.Close()

	items := make([]Module, 0)
	for rows.Next() {
		var item Module
		if err := rows.Scan(&item.ID, &item.CourseID, &item.Title, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return items, nil
}

func (t *pgCourseTx) ListLessons(ctx context.Context) ([]Lesson, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT l.id::text, l.module_id::text, l.title, l.content_type, l.content_body, l.position, l.created_at, l.updated_at
		FROM course_lessons l
		JOIN course_modules m ON m.id = l.module_id
		WHERE m.course_id=$1
		ORDER BY m.position ASC, l.position ASC
	`, t.courseID)
	if err != nil {
		return nil, classify("list lessons", err)
	}
	defer rows.Close()

	items := make([]Lesson, 0)
	for rows.Next() {
		var item Lesson
		var contentType string
		if err := rows.Scan(&item.ID, &item.ModuleID, &item.Title, &contentType, &item.ContentBody, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		item.ContentType = snapshot.ContentType(contentType)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return items, nil
}

func (t *pgCourseTx) InsertModule(ctx context.Context, module Module) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO course_modules (course_id, title, position)
		VALUES ($1, $2, $3)
		RETURNING id::text
	`, t.courseID, module.Title, module.Position).Scan(&id)
	if err != nil {
		return "", classify("insert module", err)
	}
	return id, nil
}

func (t *pgCourseTx) UpdateModule(ctx context.Context, module Module) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE course_modules
		SET title=$3, position=$4, updated_at=NOW()
		WHERE id=$1 AND course_id=$2
	`, module.ID, t.courseID, module.Title, module.Position)
	if err != nil {
		return classify("update module", err)
	}
	return nil
}

func (t *pgCourseTx) InsertLesson(ctx context.Context, lesson Lesson) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO course_lessons (module_id, title, content_type, content_body, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text
	`, lesson.ModuleID, lesson.Title, string(lesson.ContentType), lesson.ContentBody, lesson.Position).Scan(&id)
	if err != nil {
		return "", classify("insert lesson", err)
	}
	return id, nil
}

func (t *pgCourseTx) UpdateLesson(ctx context.Context, lesson Lesson) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE course_lessons
		SET module_id=$2, title=$3, content_type=$4, content_body=$5, position=$6, updated_at=NOW()
		WHERE id=$1
	`, lesson.ID, lesson.ModuleID, lesson.Title, string(lesson.ContentType), lesson.ContentBody, lesson.Position)
	if err != nil {
		return classify("update lesson", err)
	}
	return nil
}

func (t *pgCourseTx) DeleteLessons(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM course_lessons WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return classify("delete lessons", err)
	}
	return nil
}

func (t *pgCourseTx) DeleteModules(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM course_modules WHERE course_id=$1 AND id = ANY($2::uuid[])`, t.courseID, ids)
	if err != nil {
		return classify("delete modules", err)
	}
	return nil
}

func (t *pgCourseTx) ModuleDependents(ctx context.Context, ids []string) (map[string]DependentCounts, error) {
	counts := make(map[string]DependentCounts, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT m.id::text,
			(SELECT COUNT(*) FROM assignments a WHERE a.module_id = m.id),
			(SELECT COUNT(*) FROM class_materials cm WHERE cm.module_id = m.id),
			(SELECT COUNT(*) FROM class_recordings cr WHERE cr.module_id = m.id)
		FROM course_modules m
		WHERE m.id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return nil, classify("count module dependents", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var item DependentCounts
		if err := rows.Scan(&id, &item.Assignments, &item.Materials, &item.Recordings); err != nil {
			return nil, fmt.Errorf("scan module dependents: %w", err)
		}
		counts[id] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module dependents: %w", err)
	}
	return counts, nil
}

func (t *pgCourseTx) LessonProgress(ctx context.Context, ids []string) (map[string]int, error) {
	counts := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	rows, err := t.tx.Query(ctx, `
		SELECT lesson_id::text, COUNT(*)
		FROM lesson_progress
		WHERE lesson_id = ANY($1::uuid[])
		GROUP BY lesson_id
	`, ids)
	if err != nil {
		return nil, classify("count lesson progress", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan lesson progress: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson progress: %w", err)
	}
	return counts, nil
}

const selectDraft = `
	SELECT id::text, course_id, author_id, status, snapshot, review_comment,
		COALESCE(base_fingerprint, ''), submitted_at, created_at, updated_at
	FROM course_drafts`

func (t *pgCourseTx) GetDraft(ctx context.Context) (*Draft, error) {
	item, err := scanDraft(t.tx.QueryRow(ctx, selectDraft+` WHERE course_id=$1`, t.courseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *pgCourseTx) SaveDraft(ctx context.Context, draft Draft) (Draft, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	draft.CourseID = t.courseID
	payload, err := json.Marshal(draft.Snapshot)
	if err != nil {
		return Draft{}, fmt.Errorf("marshal draft snapshot: %w", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO course_drafts (id, course_id, author_id, status, snapshot, review_comment, base_fingerprint, submitted_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, NULLIF($7, ''), $8)
		ON CONFLICT (course_id) DO UPDATE
		SET author_id=EXCLUDED.author_id,
			status=EXCLUDED.status,
			snapshot=EXCLUDED.snapshot,
			review_comment=EXCLUDED.review_comment,
			base_fingerprint=EXCLUDED.base_fingerprint,
			submitted_at=EXCLUDED.submitted_at,
			updated_at=NOW()
		RETURNING id::text, created_at, updated_at
	`, draft.ID, t.courseID, draft.AuthorID, string(draft.Status), string(payload), draft.ReviewComment, draft.BaseFingerprint, draft.SubmittedAt).
		Scan(&draft.ID, &draft.CreatedAt, &draft.UpdatedAt)
	if err != nil {
		return Draft{}, classify("save draft", err)
	}
	return draft, nil
}

func (t *pgCourseTx) DeleteDraft(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM course_drafts WHERE course_id=$1`, t.courseID); err != nil {
		return classify("delete draft", err)
	}
	return nil
}

func scanDraft(row pgx.Row) (Draft, error) {
	var item Draft
	var status string
	var payload []byte
	var submittedAt *time.Time
	err := row.Scan(
		&item.ID,
		&item.CourseID,
		&item.AuthorID,
		&status,
		&payload,
		&item.ReviewComment,
		&item.BaseFingerprint,
		&submittedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Draft{}, err
	}
	if err != nil {
		return Draft{}, classify("scan draft", err)
	}
	if err := json.Unmarshal(payload, &item.Snapshot); err != nil {
		return Draft{}, fmt.Errorf("decode draft snapshot: %w", err)
	}
	item.Status = DraftStatus(status)
	item.SubmittedAt = submittedAt
	return item, nil
}
