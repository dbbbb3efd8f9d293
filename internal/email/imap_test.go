package email

import (
	"context"
	"errors"
	"testing"

	"estate_portal_backend/platform/logger"
)

type fakeMailbox struct {
	messages []InboundEmail
	seen     []int
	closed   bool
}

func (m *fakeMailbox) Unseen(context.Context) ([]InboundEmail, error) { return m.messages, nil }
func (m *fakeMailbox) MarkSeen(uid int) error                         { m.seen = append(m.seen, uid); return nil }
func (m *fakeMailbox) Close() error                                   { m.closed = true; return nil }

type fakeIngestor struct {
	failUID int
	got     []InboundEmail
	slugs   []string
}

func (f *fakeIngestor) IngestEmail(_ context.Context, orgSlug string, msg InboundEmail) error {
	if msg.UID == f.failUID {
		return errors.New("boom")
	}
	f.got = append(f.got, msg)
	f.slugs = append(f.slugs, orgSlug)
	return nil
}

func TestPollOnceMarksOnlyIngestedMessagesSeen(t *testing.T) {
	box := &fakeMailbox{messages: []InboundEmail{
		{UID: 1, MessageID: "a@example.com", Body: "hello"},
		{UID: 2, MessageID: "b@example.com", Body: "fails"},
		{UID: 3, MessageID: "c@example.com", Body: "world"},
	}}
	ingest := &fakeIngestor{failUID: 2}
	p := NewPoller(func(context.Context) (Mailbox, error) { return box, nil }, ingest, "acme", 0, logger.Nop())

	n, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 ingested, got %d", n)
	}
	if len(box.seen) != 2 || box.seen[0] != 1 || box.seen[1] != 3 {
		t.Fatalf("expected uids 1 and 3 marked seen, got %v", box.seen)
	}
	if !box.closed {
		t.Fatal("expected mailbox to be closed")
	}
	for _, slug := range ingest.slugs {
		if slug != "acme" {
			t.Fatalf("expected organization slug acme, got %q", slug)
		}
	}
}

func TestPollOnceDialError(t *testing.T) {
	p := NewPoller(func(context.Context) (Mailbox, error) { return nil, errors.New("refused") }, &fakeIngestor{}, "acme", 0, logger.Nop())
	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestMessageBodyPrefersText(t *testing.T) {
	if got := messageBody("  plain  body ", "<p>html</p>"); got != "plain body" {
		t.Fatalf("unexpected body %q", got)
	}
	if got := messageBody("", "<p>Interested in <b>Unit 4B</b></p><script>x()</script>"); got != "Interested in Unit 4B" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestFirstAddress(t *testing.T) {
	addr, name := firstAddress(map[string]string{"Jane@Example.com": " Jane Doe "})
	if addr != "jane@example.com" || name != "Jane Doe" {
		t.Fatalf("unexpected address %q name %q", addr, name)
	}
	if addr, _ := firstAddress(nil); addr != "" {
		t.Fatalf("expected empty address, got %q", addr)
	}
}
