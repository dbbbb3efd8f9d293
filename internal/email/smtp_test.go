package email

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRenderDeadLetter(t *testing.T) {
	code := 503
	body, err := renderDeadLetter(DeadLetterAlert{
		OutboxID:       "7d0f",
		OrganizationID: "org-1",
		EventType:      "lead.created",
		Target:         "hubspot",
		Attempts:       3,
		LastStatusCode: &code,
		LastError:      "webhook failed with status 503",
		FailedAt:       time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ArchiveKey:     "dead-letters/org-1/7d0f.json",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"hubspot", "Attempts:     3", "Last status:  503", "dead-letters/org-1/7d0f.json"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got:\n%s", want, body)
		}
	}
}

func TestRenderDeadLetterWithoutStatus(t *testing.T) {
	body, err := renderDeadLetter(DeadLetterAlert{Target: "n8n", LastError: "connection refused"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(body, "Last status") {
		t.Fatalf("did not expect a status line, got:\n%s", body)
	}
}

func TestBuildMessage(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "", "", "alerts@example.com", "Estate Portal", "ops@example.com")
	msg, err := s.buildMessage("ops@example.com", "subject", "body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if _, err := s.buildMessage("not an address", "subject", "body"); err == nil {
		t.Fatal("expected invalid recipient to fail")
	}
}

func TestNoopSender(t *testing.T) {
	if err := (NoopSender{}).SendDeadLetterAlert(context.Background(), DeadLetterAlert{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
