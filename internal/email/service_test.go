package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"curricula/api/internal/snapshot"
)

func TestServiceIsConfigured(t *testing.T) {
	reviewers := []string{"reviews@example.com"}
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port:      "587",
				From:      "test@example.com",
				Reviewers: reviewers,
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host:      "smtp.example.com",
				From:      "test@example.com",
				Reviewers: reviewers,
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host:      "smtp.example.com",
				Port:      "587",
				Reviewers: reviewers,
			},
			expected: false,
		},
		{
			name: "no reviewers",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host:      "smtp.example.com",
				Port:      "587",
				From:      "test@example.com",
				Reviewers: reviewers,
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestNilServiceIsNotConfigured(t *testing.T) {
	var svc *Service
	if svc.IsConfigured() {
		t.Fatal("nil service should not be configured")
	}
	svc.DraftSubmitted("course-1", "Mina", snapshot.Summary{})
}

type sentMail struct {
	addr string
	from string
	to   []string
	body string
}

func captureService(config Config, sendErr error) (*Service, *[]sentMail) {
	var sent []sentMail
	svc := NewService(config)
	svc.async = func(fn func()) { fn() }
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, body: string(msg)})
		return sendErr
	}
	return svc, &sent
}

func testConfig() Config {
	return Config{
		Host:      "smtp.example.com",
		Port:      "587",
		From:      "curricula@example.com",
		FromName:  "Curricula",
		Reviewers: []string{"rae@example.com", "ada@example.com"},
	}
}

func TestDraftSubmittedMailsReviewers(t *testing.T) {
	svc, sent := captureService(testConfig(), nil)

	svc.DraftSubmitted("course-1", "Mina", snapshot.Summary{ModulesUpdated: 1, LessonsAdded: 2, LessonsMoved: 1, HasChanges: true})

	if len(*sent) != 1 {
		t.Fatalf("expected one message, got %d", len(*sent))
	}
	mail := (*sent)[0]
	if mail.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q", mail.addr)
	}
	if mail.from != "curricula@example.com" {
		t.Errorf("envelope from = %q", mail.from)
	}
	if strings.Join(mail.to, ",") != "rae@example.com,ada@example.com" {
		t.Errorf("to = %v", mail.to)
	}
	for _, want := range []string{
		"From: Curricula <curricula@example.com>",
		"Subject: Curriculum draft for course-1 awaits review",
		"Mina submitted a curriculum draft",
		"Lessons: +2",
		"(1 moved)",
	} {
		if !strings.Contains(mail.body, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestReviewDecidedTemplates(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		comment  string
		want     []string
		absent   string
	}{
		{
			name:     "approved",
			approved: true,
			want:     []string{"Subject: Curriculum draft for course-1 approved", "Rae approved the draft"},
			absent:   "class=\"comment\"",
		},
		{
			name:    "rejected",
			comment: "Add a <quiz>",
			want:    []string{"Subject: Curriculum draft for course-1 rejected", "Rae returned the draft", "Add a &lt;quiz&gt;"},
			absent:  "approved the draft",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, sent := captureService(testConfig(), nil)
			svc.ReviewDecided("course-1", "Rae", tt.approved, tt.comment)
			if len(*sent) != 1 {
				t.Fatalf("expected one message, got %d", len(*sent))
			}
			body := (*sent)[0].body
			for _, want := range tt.want {
				if !strings.Contains(body, want) {
					t.Errorf("message should contain %q", want)
				}
			}
			if strings.Contains(body, tt.absent) {
				t.Errorf("message should not contain %q", tt.absent)
			}
		})
	}
}

func TestUnconfiguredServiceSendsNothing(t *testing.T) {
	config := testConfig()
	config.Reviewers = nil
	svc, sent := captureService(config, nil)

	svc.DraftSubmitted("course-1", "Mina", snapshot.Summary{})
	svc.ReviewDecided("course-1", "Rae", true, "")

	if len(*sent) != 0 {
		t.Fatalf("expected no messages, got %d", len(*sent))
	}
}

func TestSendFailureIsSwallowed(t *testing.T) {
	svc, sent := captureService(testConfig(), errors.New("connection refused"))
	svc.ReviewDecided("course-1", "Rae", false, "later")
	if len(*sent) != 1 {
		t.Fatalf("expected the send to be attempted once, got %d", len(*sent))
	}
}
