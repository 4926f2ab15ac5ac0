package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type canonicalLesson struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	ContentType ContentType `json:"contentType"`
	ContentBody *string     `json:"contentBody"`
}

type canonicalModule struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Lessons []canonicalLesson `json:"lessons"`
}

// Fingerprint hashes the renumbered snapshot. Only persisted ids take part, so
// a working copy and the stored draft it was saved as hash identically even
// though the working copy still carries local handles.
func Fingerprint(s Snapshot) string {
	modules := make([]canonicalModule, 0, len(s.Modules))
	for _, module := range s.Modules {
		lessons := make([]canonicalLesson, 0, len(module.Lessons))
		for _, lesson := range module.Lessons {
			lessons = append(lessons, canonicalLesson{
				ID:          lesson.ID.PersistedID(),
				Title:       lesson.Title,
				ContentType: lesson.ContentType,
				ContentBody: lesson.ContentBody,
			})
		}
		modules = append(modules, canonicalModule{
			ID:      module.ID.PersistedID(),
			Title:   module.Title,
			Lessons: lessons,
		})
	}
	payload, _ := json.Marshal(modules)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
