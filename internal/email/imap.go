package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"estate_portal_backend/platform/config"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/sanitize"

	imap "github.com/BrianLeishman/go-imap"
)

const defaultPollInterval = time.Minute

// InboundEmail is one unseen message pulled from the mailbox.
type InboundEmail struct {
	UID         int
	MessageID   string
	FromAddress string
	FromName    string
	Subject     string
	Body        string
	ReceivedAt  time.Time
}

// Ingestor turns an inbound email into a lead message.
type Ingestor interface {
	IngestEmail(ctx context.Context, orgSlug string, msg InboundEmail) error
}

// Mailbox is the slice of an IMAP session the poller needs.
type Mailbox interface {
	Unseen(ctx context.Context) ([]InboundEmail, error)
	MarkSeen(uid int) error
	Close() error
}

// DialFunc opens a new mailbox session.
type DialFunc func(ctx context.Context) (Mailbox, error)

// Poller periodically drains unseen mail into the lead ingest pipeline.
type Poller struct {
	dial     DialFunc
	ingest   Ingestor
	orgSlug  string
	interval time.Duration
	log      *logger.Logger
}

func NewPoller(dial DialFunc, ingest Ingestor, orgSlug string, interval time.Duration, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{
		dial:     dial,
		ingest:   ingest,
		orgSlug:  orgSlug,
		interval: interval,
		log:      log,
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if n, err := p.PollOnce(ctx); err != nil {
			p.log.Warn("imap poll failed", "error", err)
		} else if n > 0 {
			p.log.Info("imap poll ingested messages", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce ingests every unseen message and marks the ingested ones seen.
// A message that fails to ingest stays unseen and is retried on the next poll.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	box, err := p.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("imap dial: %w", err)
	}
	defer func() {
		if cerr := box.Close(); cerr != nil {
			p.log.Debug("imap close failed", "error", cerr)
		}
	}()

	messages, err := box.Unseen(ctx)
	if err != nil {
		return 0, fmt.Errorf("imap fetch unseen: %w", err)
	}

	ingested := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return ingested, ctx.Err()
		}
		if err := p.ingest.IngestEmail(ctx, p.orgSlug, msg); err != nil {
			p.log.Warn("imap ingest failed", "uid", msg.UID, "message_id", msg.MessageID, "error", err)
			continue
		}
		if err := box.MarkSeen(msg.UID); err != nil {
			p.log.Warn("imap mark seen failed", "uid", msg.UID, "error", err)
		}
		ingested++
	}
	return ingested, nil
}

// NewIMAPDialer returns a DialFunc backed by go-imap.
func NewIMAPDialer(cfg config.IMAPConfig) (DialFunc, error) {
	if !cfg.IsIMAPEnabled() {
		return nil, errors.New("imap not configured")
	}
	folder := cfg.GetIMAPFolder()
	if folder == "" {
		folder = "INBOX"
	}
	return func(ctx context.Context) (Mailbox, error) {
		d, err := imap.New(cfg.GetIMAPUsername(), cfg.GetIMAPPassword(), cfg.GetIMAPHost(), cfg.GetIMAPPort())
		if err != nil {
			return nil, err
		}
		if err := d.SelectFolder(folder); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("select %s: %w", folder, err)
		}
		return &imapMailbox{dialer: d}, nil
	}, nil
}

type imapMailbox struct {
	dialer *imap.Dialer
}

func (m *imapMailbox) Unseen(ctx context.Context) ([]InboundEmail, error) {
	uids, err := m.dialer.GetUIDs("UNSEEN")
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}

	emails, err := m.dialer.GetEmails(uids...)
	if err != nil {
		return nil, err
	}

	out := make([]InboundEmail, 0, len(emails))
	for uid, e := range emails {
		if e == nil {
			continue
		}
		addr, name := firstAddress(e.From)
		out = append(out, InboundEmail{
			UID:         uid,
			MessageID:   strings.Trim(strings.TrimSpace(e.MessageID), "<>"),
			FromAddress: addr,
			FromName:    name,
			Subject:     strings.TrimSpace(e.Subject),
			Body:        messageBody(e.Text, e.HTML),
			ReceivedAt:  e.Received.UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *imapMailbox) MarkSeen(uid int) error {
	return m.dialer.MarkSeen(uid)
}

func (m *imapMailbox) Close() error {
	return m.dialer.Close()
}

func firstAddress(addrs map[string]string) (string, string) {
	keys := make([]string, 0, len(addrs))
	for k := range addrs {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", ""
	}
	sort.Strings(keys)
	return strings.ToLower(keys[0]), strings.TrimSpace(addrs[keys[0]])
}

// messageBody prefers the plain text part and falls back to stripped HTML.
func messageBody(text, html string) string {
	if body := strings.TrimSpace(text); body != "" {
		return sanitize.Text(body)
	}
	return sanitize.StripHTML(html)
}
