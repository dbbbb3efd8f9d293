package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"estate_portal_backend/internal/email"
	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/transport"
	"estate_portal_backend/platform/apperr"
)

const maxEmailText = 20000

var _ email.Ingestor = (*Service)(nil)

// IngestEmail feeds one mailbox message through Ingest for the organization
// identified by orgSlug. The sender address is the thread.
func (s *Service) IngestEmail(ctx context.Context, orgSlug string, msg email.InboundEmail) error {
	orgID, err := s.store.OrganizationIDBySlug(ctx, orgSlug)
	if errors.Is(err, repository.ErrOrganizationNotFound) {
		return apperr.NotFound("organization not found: " + orgSlug)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to load organization", err)
	}

	from := strings.ToLower(strings.TrimSpace(msg.FromAddress))
	if !emailRe.MatchString(from) {
		from = ""
	}
	thread := from
	if thread == "" {
		thread = fmt.Sprintf("imap-uid-%d", msg.UID)
	}
	messageID := strings.Trim(strings.TrimSpace(msg.MessageID), "<>")
	if messageID == "" {
		messageID = fmt.Sprintf("imap-uid-%d", msg.UID)
	}

	text := strings.TrimSpace(msg.Body)
	if subject := strings.TrimSpace(msg.Subject); subject != "" {
		text = subject + "\n\n" + text
	}
	if len(text) > maxEmailText {
		text = text[:maxEmailText]
	}

	_, err = s.Ingest(ctx, orgID, transport.IngestMessageRequest{
		Channel:   repository.ChannelEmail,
		Direction: repository.DirectionInbound,
		ThreadID:  thread,
		MessageID: messageID,
		Text:      text,
		Name:      msg.FromName,
		Email:     from,
	})
	return err
}
