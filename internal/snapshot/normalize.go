package snapshot

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// RawSnapshot is the loosely typed input accepted from clients. Positions are
// read but never trusted.
type RawSnapshot struct {
	Modules []RawModule `json:"modules"`
}

type RawModule struct {
	ID       *string     `json:"id"`
	LocalID  string      `json:"localId,omitempty"`
	Title    *string     `json:"title"`
	Position *int        `json:"position,omitempty"`
	Lessons  []RawLesson `json:"lessons"`
}

type RawLesson struct {
	ID          *string `json:"id"`
	LocalID     string  `json:"localId,omitempty"`
	Title       *string `json:"title"`
	ContentType string  `json:"contentType"`
	ContentBody *string `json:"contentBody"`
	Position    *int    `json:"position,omitempty"`
}

type mode int

const (
	lenient mode = iota
	strict
)

// Normalize is the lenient entry point used for autosave: an incomplete draft
// still normalizes as long as ids are unique, lengths are within limits and
// content types are known.
func Normalize(raw RawSnapshot) (Snapshot, error) {
	return build(raw, lenient)
}

// ValidateForSubmit is the strict entry point used before a draft enters review
// and before a direct live edit. Titles must be non-empty and VIDEO/FILE lessons
// must carry an absolute URL.
func ValidateForSubmit(raw RawSnapshot) (Snapshot, error) {
	return build(raw, strict)
}

// ValidateSnapshot re-runs strict validation over an already normalized snapshot.
func ValidateSnapshot(s Snapshot) (Snapshot, error) {
	return ValidateForSubmit(ToRaw(s))
}

func build(raw RawSnapshot, m mode) (Snapshot, error) {
	var issues issueList
	out := Snapshot{Modules: make([]Module, 0, len(raw.Modules))}

	for i, rawModule := range raw.Modules {
		path := fmt.Sprintf("modules[%d]", i)
		module := Module{
			ID:       nodeFromRaw(rawModule.ID, rawModule.LocalID),
			Title:    trimmed(rawModule.Title),
			Position: i,
			Lessons:  make([]Lesson, 0, len(rawModule.Lessons)),
		}
		checkTitle(&issues, path, module.Title, m)

		for j, rawLesson := range rawModule.Lessons {
			lessonPath := fmt.Sprintf("%s.lessons[%d]", path, j)
			lesson := Lesson{
				ID:       nodeFromRaw(rawLesson.ID, rawLesson.LocalID),
				Title:    trimmed(rawLesson.Title),
				Position: j,
			}
			checkTitle(&issues, lessonPath, lesson.Title, m)

			contentType, ok := ParseContentType(rawLesson.ContentType)
			if !ok {
				issues.add(lessonPath+".contentType", CodeInvalidContentType,
					fmt.Sprintf("content type %q is not one of TEXT, VIDEO, FILE", rawLesson.ContentType))
				contentType = ContentText
			}
			lesson.ContentType = contentType
			lesson.ContentBody = normalizeBody(rawLesson.ContentBody, contentType)
			checkBody(&issues, lessonPath, lesson, m)

			module.Lessons = append(module.Lessons, lesson)
		}
		out.Modules = append(out.Modules, module)
	}

	// Duplicate ids lead, so they set the error code.
	if err := AssertUniqueIDs(out); err != nil {
		var dup *ValidationError
		if errors.As(err, &dup) {
			issues = append(append(issueList{}, dup.Issues...), issues...)
		}
	}
	if err := issues.err(); err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

// ToRaw turns a canonical snapshot back into client input, so that
// Normalize(ToRaw(s)) reproduces s.
func ToRaw(s Snapshot) RawSnapshot {
	out := RawSnapshot{Modules: make([]RawModule, 0, len(s.Modules))}
	for i, module := range s.Modules {
		title := module.Title
		position := i
		rawModule := RawModule{
			ID:       optionalID(module.ID),
			LocalID:  module.ID.LocalID(),
			Title:    &title,
			Position: &position,
			Lessons:  make([]RawLesson, 0, len(module.Lessons)),
		}
		for j, lesson := range module.Lessons {
			lessonTitle := lesson.Title
			lessonPosition := j
			var body *string
			if lesson.ContentBody != nil {
				value := *lesson.ContentBody
				body = &value
			}
			rawModule.Lessons = append(rawModule.Lessons, RawLesson{
				ID:          optionalID(lesson.ID),
				LocalID:     lesson.ID.LocalID(),
				Title:       &lessonTitle,
				ContentType: string(lesson.ContentType),
				ContentBody: body,
				Position:    &lessonPosition,
			})
		}
		out.Modules = append(out.Modules, rawModule)
	}
	return out
}

func nodeFromRaw(id *string, localID string) NodeID {
	if id != nil {
		if node := Persisted(*id); !node.IsZero() {
			return node
		}
	}
	return Local(localID)
}

func optionalID(id NodeID) *string {
	value := id.PersistedID()
	if value == "" {
		return nil
	}
	return &value
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

// Text bodies keep their whitespace; URL bodies are trimmed.
func normalizeBody(body *string, contentType ContentType) *string {
	if body == nil {
		return nil
	}
	value := *body
	if contentType.RequiresURL() {
		value = strings.TrimSpace(value)
	}
	return &value
}

func checkTitle(issues *issueList, path, title string, m mode) {
	if utf8.RuneCountInString(title) > MaxTitleLength {
		issues.add(path+".title", CodeFieldTooLong, fmt.Sprintf("title exceeds %d characters", MaxTitleLength))
		return
	}
	if m == strict && title == "" {
		issues.add(path+".title", CodeEmptyTitle, "title is required")
	}
}

func checkBody(issues *issueList, path string, lesson Lesson, m mode) {
	bodyPath := path + ".contentBody"
	if lesson.ContentBody != nil && utf8.RuneCountInString(*lesson.ContentBody) > MaxContentBodyLength {
		issues.add(bodyPath, CodeFieldTooLong, fmt.Sprintf("content body exceeds %d characters", MaxContentBodyLength))
		return
	}
	if m != strict || !lesson.ContentType.RequiresURL() {
		return
	}
	if lesson.ContentBody == nil || *lesson.ContentBody == "" {
		issues.add(bodyPath, CodeMissingContentBody, fmt.Sprintf("%s lessons require a URL", strings.ToLower(string(lesson.ContentType))))
		return
	}
	if !isAbsoluteURL(*lesson.ContentBody) {
		issues.add(bodyPath, CodeInvalidURL, "content body must be an absolute URL")
	}
}

func isAbsoluteURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return parsed.IsAbs() && parsed.Host != ""
}
