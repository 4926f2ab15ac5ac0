// Package email sends review notifications over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"strings"

	"curricula/api/internal/snapshot"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// Reviewers receive every notification.
	Reviewers []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	async  func(func())
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		async:  func(fn func()) { go fn() },
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != "" && len(s.config.Reviewers) > 0
}

func (s *Service) sendHTML(to []string, subject, htmlBody string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-curricula"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", subject)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type SubmittedData struct {
	CourseID   string
	AuthorName string
	Summary    snapshot.Summary
}

type OutcomeData struct {
	CourseID     string
	ReviewerName string
	Approved     bool
	Comment      string
}

// DraftSubmitted tells reviewers a draft is waiting (fire-and-forget).
func (s *Service) DraftSubmitted(courseID, authorName string, summary snapshot.Summary) {
	if !s.IsConfigured() {
		return
	}
	data := SubmittedData{CourseID: courseID, AuthorName: authorName, Summary: summary}
	s.deliver(fmt.Sprintf("Curriculum draft for %s awaits review", courseID), submittedTemplate, data)
}

// ReviewDecided reports an approval or rejection (fire-and-forget).
func (s *Service) ReviewDecided(courseID, reviewerName string, approved bool, comment string) {
	if !s.IsConfigured() {
		return
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	data := OutcomeData{CourseID: courseID, ReviewerName: reviewerName, Approved: approved, Comment: comment}
	s.deliver(fmt.Sprintf("Curriculum draft for %s %s", courseID, verdict), outcomeTemplate, data)
}

func (s *Service) deliver(subject string, tmpl *template.Template, data any) {
	html, err := renderTemplate(tmpl, data)
	if err != nil {
		log.Printf("email: render %q: %v", subject, err)
		return
	}
	to := append([]string(nil), s.config.Reviewers...)
	s.async(func() {
		if err := s.sendHTML(to, subject, html); err != nil {
			log.Printf("email: send %q: %v", subject, err)
		}
	})
}

func renderTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .comment { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }`

var submittedTemplate = template.Must(template.New("submitted").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>` + layoutStyle + `</style>
</head>
<body>
    <div class="header"><h1>Course {{.CourseID}}</h1></div>
    <p>{{.AuthorName}} submitted a curriculum draft for review.</p>
    <ul>
        <li>Modules: +{{.Summary.ModulesAdded}} / ~{{.Summary.ModulesUpdated}} / -{{.Summary.ModulesRemoved}}</li>
        <li>Lessons: +{{.Summary.LessonsAdded}} / ~{{.Summary.LessonsUpdated}} / -{{.Summary.LessonsRemoved}}{{if .Summary.LessonsMoved}} ({{.Summary.LessonsMoved}} moved){{end}}</li>
    </ul>
</body>
</html>`))

var outcomeTemplate = template.Must(template.New("outcome").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>` + layoutStyle + `</style>
</head>
<body>
    <div class="header"><h1>Course {{.CourseID}}</h1></div>
    {{if .Approved}}
    <p>{{.ReviewerName}} approved the draft. Live content now matches it.</p>
    {{else}}
    <p>{{.ReviewerName}} returned the draft to its author.</p>
    <div class="comment">{{.Comment}}</div>
    {{end}}
</body>
</html>`))
