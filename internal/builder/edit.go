package builder

import (
	"errors"
	"strings"

	"curricula/api/internal/snapshot"

	"github.com/google/uuid"
)

var ErrNodeNotFound = errors.New("builder: node not found")

func newLocalID() snapshot.NodeID {
	return snapshot.Local(uuid.NewString())
}

func (s *Session) moduleIndexLocked(id snapshot.NodeID) int {
	for i, module := range s.working.Modules {
		if module.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) lessonIndexLocked(id snapshot.NodeID) (int, int) {
	for i, module := range s.working.Modules {
		for j, lesson := range module.Lessons {
			if lesson.ID == id {
				return i, j
			}
		}
	}
	return -1, -1
}

func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

func (s *Session) AddModule(title string) snapshot.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := newLocalID()
	s.working.Modules = append(s.working.Modules, snapshot.Module{ID: id, Title: title})
	s.working = s.working.Renumber()
	s.selected = id
	s.touchLocked()
	return id
}

func (s *Session) RenameModule(id snapshot.NodeID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.moduleIndexLocked(id)
	if i < 0 {
		return ErrNodeNotFound
	}
	s.working.Modules[i].Title = title
	s.touchLocked()
	return nil
}

func (s *Session) DeleteModule(id snapshot.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.moduleIndexLocked(id)
	if i < 0 {
		return ErrNodeNotFound
	}
	if s.selected == id {
		s.selected = snapshot.NodeID{}
	}
	for _, lesson := range s.working.Modules[i].Lessons {
		if s.selected == lesson.ID {
			s.selected = snapshot.NodeID{}
		}
	}
	s.working.Modules = append(s.working.Modules[:i], s.working.Modules[i+1:]...)
	s.working = s.working.Renumber()
	s.touchLocked()
	return nil
}

// MoveModule places the module at index, clamped to the module list.
func (s *Session) MoveModule(id snapshot.NodeID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.moduleIndexLocked(id)
	if i < 0 {
		return ErrNodeNotFound
	}
	module := s.working.Modules[i]
	rest := append(s.working.Modules[:i:i], s.working.Modules[i+1:]...)
	index = clampIndex(index, len(rest))
	modules := make([]snapshot.Module, 0, len(s.working.Modules))
	modules = append(modules, rest[:index]...)
	modules = append(modules, module)
	modules = append(modules, rest[index:]...)
	s.working.Modules = modules
	s.working = s.working.Renumber()
	s.touchLocked()
	return nil
}

func (s *Session) AddLesson(moduleID snapshot.NodeID, title string, contentType snapshot.ContentType) (snapshot.NodeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.moduleIndexLocked(moduleID)
	if i < 0 {
		return snapshot.NodeID{}, ErrNodeNotFound
	}
	if contentType == "" {
		contentType = snapshot.ContentText
	}
	id := newLocalID()
	s.working.Modules[i].Lessons = append(s.working.Modules[i].Lessons, snapshot.Lesson{
		ID:          id,
		Title:       title,
		ContentType: contentType,
	})
	s.working = s.working.Renumber()
	s.selected = id
	s.touchLocked()
	return id, nil
}

func (s *Session) RenameLesson(id snapshot.NodeID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, j := s.lessonIndexLocked(id)
	if i < 0 {
		return ErrNodeNotFound
	}
	s.working.Modules[i].Lessons[j].Title = title
	s.touchLocked()
	return nil
}

// SetLessonContent replaces the lesson's content type and body. A nil body
// clears it.
func (s *Session) SetLessonContent(id snapshot.NodeID, contentType snapshot.ContentType, body *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, j := s.lessonIndexLocked(id)
	if i < 0 {
		return ErrNodeNotFound
	}
	lesson := &s.working.Modules[i].Lessons[j]
	if contentType != "" {
		lesson.ContentType = snapshot.ContentType(strings.ToUpper(string(contentType)))
	}
	if body == nil {
		lesson.ContentBody = nil
	} else {
		value := *body
		lesson.ContentBody = &value
	}
	s.touchLocked()
	return nil
}

func (s *Session) DeleteLesson(id snapshot.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, j := s.lessonIndexLocked(id)
	if i < 0 {
		return ErrNodeNotFound
	}
	if s.selected == id {
		s.selected = snapshot.NodeID{}
	}
	lessons := s.working.Modules[i].Lessons
	s.working.Modules[i].Lessons = append(lessons[:j], lessons[j+1:]...)
	s.working = s.working.Renumber()
	s.touchLocked()
	return nil
}

// MoveLesson places the lesson at index within the target module, which may
// be the module it is already in.
func (s *Session) MoveLesson(id, moduleID snapshot.NodeID, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, j := s.lessonIndexLocked(id)
	target := s.moduleIndexLocked(moduleID)
	if i < 0 || target < 0 {
		return ErrNodeNotFound
	}
	lesson := s.working.Modules[i].Lessons[j]
	from := s.working.Modules[i].Lessons
	s.working.Modules[i].Lessons = append(from[:j:j], from[j+1:]...)

	dest := s.working.Modules[target].Lessons
	index = clampIndex(index, len(dest))
	lessons := make([]snapshot.Lesson, 0, len(dest)+1)
	lessons = append(lessons, dest[:index]...)
	lessons = append(lessons, lesson)
	lessons = append(lessons, dest[index:]...)
	s.working.Modules[target].Lessons = lessons
	s.working = s.working.Renumber()
	s.touchLocked()
	return nil
}

// Select marks a module or lesson as open. The zero NodeID clears the selection.
func (s *Session) Select(id snapshot.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !id.IsZero() && s.moduleIndexLocked(id) < 0 {
		if i, _ := s.lessonIndexLocked(id); i < 0 {
			return ErrNodeNotFound
		}
	}
	s.selected = id
	return nil
}

func (s *Session) Selected() snapshot.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}
