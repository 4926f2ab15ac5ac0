// Package snapshot holds the canonical tree of a course's curriculum: ordered
// modules, each holding ordered lessons, plus the normalizer, validator and diff
// engine that operate on it.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MaxTitleLength       = 200
	MaxContentBodyLength = 50000
)

type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentVideo ContentType = "VIDEO"
	ContentFile  ContentType = "FILE"
)

// ParseContentType accepts the wire values case-insensitively. An empty value
// maps to ContentText.
func ParseContentType(value string) (ContentType, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(ContentText):
		return ContentText, true
	case string(ContentVideo):
		return ContentVideo, true
	case string(ContentFile):
		return ContentFile, true
	default:
		return "", false
	}
}

// RequiresURL reports whether the lesson body must be an absolute URL when the
// snapshot is submitted for review.
func (c ContentType) RequiresURL() bool {
	return c == ContentVideo || c == ContentFile
}

type idKind uint8

const (
	idNone idKind = iota
	idPersisted
	idLocal
)

// NodeID identifies a module or lesson. A Persisted id names a row the server
// already knows about; a Local id is a client-minted handle for a node that has
// not been stored yet. The two kinds never compare equal.
type NodeID struct {
	kind  idKind
	value string
}

func Persisted(id string) NodeID {
	id = strings.TrimSpace(id)
	if id == "" {
		return NodeID{}
	}
	return NodeID{kind: idPersisted, value: id}
}

func Local(tempID string) NodeID {
	tempID = strings.TrimSpace(tempID)
	if tempID == "" {
		return NodeID{}
	}
	return NodeID{kind: idLocal, value: tempID}
}

func (n NodeID) IsPersisted() bool { return n.kind == idPersisted }
func (n NodeID) IsLocal() bool     { return n.kind == idLocal }
func (n NodeID) IsZero() bool      { return n.kind == idNone }

// PersistedID returns the server id, or "" for local and empty ids.
func (n NodeID) PersistedID() string {
	if n.kind != idPersisted {
		return ""
	}
	return n.value
}

// LocalID returns the client handle, or "" for persisted and empty ids.
func (n NodeID) LocalID() string {
	if n.kind != idLocal {
		return ""
	}
	return n.value
}

func (n NodeID) String() string {
	switch n.kind {
	case idPersisted:
		return n.value
	case idLocal:
		return "local:" + n.value
	default:
		return "<new>"
	}
}

type Snapshot struct {
	Modules []Module `json:"modules"`
}

type Module struct {
	ID       NodeID   `json:"-"`
	Title    string   `json:"title"`
	Position int      `json:"position"`
	Lessons  []Lesson `json:"lessons"`
}

type Lesson struct {
	ID          NodeID      `json:"-"`
	Title       string      `json:"title"`
	ContentType ContentType `json:"contentType"`
	ContentBody *string     `json:"contentBody"`
	Position    int         `json:"position"`
}

type wireIDs struct {
	ID      *string `json:"id"`
	LocalID string  `json:"localId,omitempty"`
}

func (n NodeID) wire() wireIDs {
	out := wireIDs{LocalID: n.LocalID()}
	if id := n.PersistedID(); id != "" {
		out.ID = &id
	}
	return out
}

func (w wireIDs) node() NodeID {
	if w.ID != nil && strings.TrimSpace(*w.ID) != "" {
		return Persisted(*w.ID)
	}
	return Local(w.LocalID)
}

func (m Module) MarshalJSON() ([]byte, error) {
	type plain Module
	lessons := m.Lessons
	if lessons == nil {
		lessons = []Lesson{}
	}
	p := plain(m)
	p.Lessons = lessons
	return json.Marshal(struct {
		wireIDs
		plain
	}{m.ID.wire(), p})
}

func (m *Module) UnmarshalJSON(data []byte) error {
	type plain Module
	var aux struct {
		wireIDs
		plain
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Module(aux.plain)
	m.ID = aux.wireIDs.node()
	return nil
}

func (l Lesson) MarshalJSON() ([]byte, error) {
	type plain Lesson
	return json.Marshal(struct {
		wireIDs
		plain
	}{l.ID.wire(), plain(l)})
}

func (l *Lesson) UnmarshalJSON(data []byte) error {
	type plain Lesson
	var aux struct {
		wireIDs
		plain
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = Lesson(aux.plain)
	l.ID = aux.wireIDs.node()
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	modules := s.Modules
	if modules == nil {
		modules = []Module{}
	}
	return json.Marshal(struct {
		Modules []Module `json:"modules"`
	}{modules})
}

// Clone returns a deep copy; snapshots are values and callers may mutate the copy freely.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Modules: make([]Module, len(s.Modules))}
	for i, module := range s.Modules {
		copied := module
		copied.Lessons = make([]Lesson, len(module.Lessons))
		for j, lesson := range module.Lessons {
			copiedLesson := lesson
			if lesson.ContentBody != nil {
				body := *lesson.ContentBody
				copiedLesson.ContentBody = &body
			}
			copied.Lessons[j] = copiedLesson
		}
		out.Modules[i] = copied
	}
	return out
}

// Renumber rewrites every position to its 0-based index.
func (s Snapshot) Renumber() Snapshot {
	out := s.Clone()
	for i := range out.Modules {
		out.Modules[i].Position = i
		for j := range out.Modules[i].Lessons {
			out.Modules[i].Lessons[j].Position = j
		}
	}
	return out
}

func (s Snapshot) LessonCount() int {
	total := 0
	for _, module := range s.Modules {
		total += len(module.Lessons)
	}
	return total
}

// AssertUniqueIDs fails with a DuplicateId ValidationError when a persisted
// module id or a persisted lesson id appears more than once. Lesson ids are
// checked across the whole snapshot, not per module.
func AssertUniqueIDs(s Snapshot) error {
	var issues []Issue
	modules := make(map[string]int, len(s.Modules))
	lessons := make(map[string]string)
	for i, module := range s.Modules {
		if id := module.ID.PersistedID(); id != "" {
			if first, seen := modules[id]; seen {
				issues = append(issues, Issue{
					Path:    fmt.Sprintf("modules[%d].id", i),
					Code:    CodeDuplicateID,
					Message: fmt.Sprintf("module id %s already used by modules[%d]", id, first),
				})
			} else {
				modules[id] = i
			}
		}
		for j, lesson := range module.Lessons {
			id := lesson.ID.PersistedID()
			if id == "" {
				continue
			}
			path := fmt.Sprintf("modules[%d].lessons[%d]", i, j)
			if first, seen := lessons[id]; seen {
				issues = append(issues, Issue{
					Path:    path + ".id",
					Code:    CodeDuplicateID,
					Message: fmt.Sprintf("lesson id %s already used by %s", id, first),
				})
				continue
			}
			lessons[id] = path
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Code: CodeDuplicateID, Issues: issues}
	}
	return nil
}
