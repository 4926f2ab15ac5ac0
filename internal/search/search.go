package search

import (
	"unicode/utf8"

	"curricula/api/internal/snapshot"
)

type Kind string

const (
	KindModule Kind = "module"
	KindLesson Kind = "lesson"
)

// Record is one indexed node of a course's live curriculum.
type Record struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	NodeID      string `json:"nodeId"`
	CourseID    string `json:"courseId"`
	ModuleID    string `json:"moduleId"`
	Title       string `json:"title"`
	ContentType string `json:"contentType,omitempty"`
	Body        string `json:"body,omitempty"`
	Position    int    `json:"position"`
}

type Result struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	CourseID string `json:"courseId"`
	ModuleID string `json:"moduleId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

type Query struct {
	Text     string
	CourseID string
	Limit    int
	Offset   int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Backend is a search engine holding curriculum records.
type Backend interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexRecords(records []Record) error
	DeleteRecords(ids []string) error
}

const maxBodyRunes = 2000

func RecordID(kind Kind, nodeID string) string {
	return string(kind) + "-" + nodeID
}

// RecordsFor flattens a live snapshot into index records. Nodes without a
// persisted id are skipped.
func RecordsFor(courseID string, live snapshot.Snapshot) []Record {
	records := make([]Record, 0, len(live.Modules)+live.LessonCount())
	for mi, m := range live.Modules {
		moduleID := m.ID.PersistedID()
		if moduleID == "" {
			continue
		}
		records = append(records, Record{
			ID:       RecordID(KindModule, moduleID),
			Kind:     KindModule,
			NodeID:   moduleID,
			CourseID: courseID,
			ModuleID: moduleID,
			Title:    m.Title,
			Position: mi,
		})
		for li, l := range m.Lessons {
			lessonID := l.ID.PersistedID()
			if lessonID == "" {
				continue
			}
			rec := Record{
				ID:          RecordID(KindLesson, lessonID),
				Kind:        KindLesson,
				NodeID:      lessonID,
				CourseID:    courseID,
				ModuleID:    moduleID,
				Title:       l.Title,
				ContentType: string(l.ContentType),
				Position:    li,
			}
			if l.ContentType == snapshot.ContentText && l.ContentBody != nil {
				rec.Body = truncate(*l.ContentBody, maxBodyRunes)
			}
			records = append(records, rec)
		}
	}
	return records
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
