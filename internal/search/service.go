package search

import (
	"log"
	"strings"

	"curricula/api/internal/snapshot"
)

// Service is the facade the application talks to. A nil backend turns every
// call into a no-op, so search stays optional.
type Service struct {
	backend Backend
	async   func(func())
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend, async: func(fn func()) { go fn() }}
}

func (s *Service) enabled() bool {
	return s != nil && s.backend != nil && s.backend.Healthy()
}

func (s *Service) Search(q Query) Response {
	text := strings.TrimSpace(q.Text)
	if !s.enabled() || text == "" {
		return Response{Results: []Result{}, Total: 0, Query: text}
	}
	q.Text = text
	results, total, err := s.backend.Search(q)
	if err != nil {
		log.Printf("search: query failed: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: text}
	}
	if results == nil {
		results = []Result{}
	}
	return Response{Results: results, Total: total, Query: text}
}

// ReindexCourse pushes the course's live content and drops records for
// deleted nodes (fire-and-forget).
func (s *Service) ReindexCourse(courseID string, live snapshot.Snapshot, deletedModules, deletedLessons []string) {
	if !s.enabled() {
		return
	}
	records := RecordsFor(courseID, live)
	stale := make([]string, 0, len(deletedModules)+len(deletedLessons))
	for _, id := range deletedModules {
		stale = append(stale, RecordID(KindModule, id))
	}
	for _, id := range deletedLessons {
		stale = append(stale, RecordID(KindLesson, id))
	}

	s.async(func() {
		if err := s.backend.DeleteRecords(stale); err != nil {
			log.Printf("search: drop stale records for %s: %v", courseID, err)
		}
		if err := s.backend.IndexRecords(records); err != nil {
			log.Printf("search: index course %s: %v", courseID, err)
		}
	})
}
