package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/internal/leads/repository"
	"estate_portal_backend/internal/leads/resolver"
	"estate_portal_backend/internal/outbox"
	"estate_portal_backend/platform/db"

	"github.com/google/uuid"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// memStore mirrors the Repository's lookup order and link semantics in memory.
type memStore struct {
	mu         sync.Mutex
	orgs       map[uuid.UUID]string
	leads      []*repository.Lead
	messages   []repository.Message
	links      map[[2]uuid.UUID]repository.Link
	locks      []string
	savepoints int
}

func newMemStore(orgID uuid.UUID, slug string) *memStore {
	return &memStore{
		orgs:  map[uuid.UUID]string{orgID: slug},
		links: make(map[[2]uuid.UUID]repository.Link),
	}
}

func (s *memStore) InTx(_ context.Context, fn func(tx repository.IngestTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

func (s *memStore) GetByID(_ context.Context, orgID, id uuid.UUID) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID == id && l.OrganizationID == orgID {
			return *l, nil
		}
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (s *memStore) OrganizationIDBySlug(_ context.Context, slug string) (uuid.UUID, error) {
	for id, sl := range s.orgs {
		if sl == slug {
			return id, nil
		}
	}
	return uuid.Nil, repository.ErrOrganizationNotFound
}

func (s *memStore) OrganizationSlug(_ context.Context, orgID uuid.UUID) (string, error) {
	if sl, ok := s.orgs[orgID]; ok {
		return sl, nil
	}
	return "", repository.ErrOrganizationNotFound
}

func (s *memStore) UpsertLink(_ context.Context, orgID, leadID, propertyID uuid.UUID, confidence float64, evidence string) (repository.Link, repository.LinkOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]uuid.UUID{leadID, propertyID}
	existing, ok := s.links[key]
	if !ok {
		l := repository.Link{ID: uuid.New(), OrganizationID: orgID, LeadID: leadID, PropertyID: propertyID, Confidence: confidence, Evidence: evidence, CreatedAt: start, UpdatedAt: start}
		s.links[key] = l
		return l, repository.LinkCreated, nil
	}
	if existing.Confidence < confidence {
		existing.Confidence = confidence
		existing.Evidence = evidence
		existing.UpdatedAt = existing.UpdatedAt.Add(time.Minute)
		s.links[key] = existing
		return existing, repository.LinkUpgraded, nil
	}
	return existing, repository.LinkUnchanged, nil
}

func (s *memStore) ListLinks(_ context.Context, leadID uuid.UUID) ([]repository.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Link, 0)
	for _, l := range s.links {
		if l.LeadID == leadID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) MergeProcessingStatus(_ context.Context, leadID uuid.UUID, status json.RawMessage) (repository.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID != leadID {
			continue
		}
		merged := map[string]any{}
		if len(l.ProcessingStatus) > 0 {
			_ = json.Unmarshal(l.ProcessingStatus, &merged)
		}
		var patch map[string]any
		if err := json.Unmarshal(status, &patch); err != nil {
			return repository.Lead{}, err
		}
		for k, v := range patch {
			merged[k] = v
		}
		l.ProcessingStatus, _ = json.Marshal(merged)
		return *l, nil
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (s *memStore) lead(id uuid.UUID) repository.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.ID == id {
			return *l
		}
	}
	return repository.Lead{}
}

type memTx struct {
	s *memStore
}

func (t *memTx) Querier() db.DBTX { return nil }

func (t *memTx) LockIdentity(_ context.Context, orgID uuid.UUID, key string) error {
	t.s.locks = append(t.s.locks, orgID.String()+":"+key)
	return nil
}

func (t *memTx) FindMessage(_ context.Context, orgID uuid.UUID, channel, externalID string) (repository.Message, error) {
	for _, m := range t.s.messages {
		if m.OrganizationID == orgID && m.Channel == channel && m.ExternalMessageID != nil && *m.ExternalMessageID == externalID {
			return m, nil
		}
	}
	return repository.Message{}, repository.ErrMessageNotFound
}

func (t *memTx) FindLead(_ context.Context, orgID uuid.UUID, match repository.LeadMatch) (repository.Lead, error) {
	if match.Email != "" {
		for _, l := range t.s.leads {
			if l.OrganizationID == orgID && l.Email != "" && strings.EqualFold(l.Email, match.Email) {
				return *l, nil
			}
		}
	}
	if match.Phone != "" {
		for _, l := range t.s.leads {
			if l.OrganizationID == orgID && l.Phone != "" && l.Phone == match.Phone {
				return *l, nil
			}
		}
	}
	if match.ThreadID != "" {
		for i := len(t.s.messages) - 1; i >= 0; i-- {
			m := t.s.messages[i]
			if m.OrganizationID == orgID && m.Channel == match.Channel && m.ThreadID == match.ThreadID && m.LeadID != nil {
				for _, l := range t.s.leads {
					if l.ID == *m.LeadID {
						return *l, nil
					}
				}
			}
		}
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (t *memTx) InsertLead(_ context.Context, nl repository.NewLead) (repository.Lead, error) {
	l := &repository.Lead{
		ID:               uuid.New(),
		OrganizationID:   nl.OrganizationID,
		Name:             nl.Name,
		Email:            nl.Email,
		Phone:            nl.Phone,
		BuyOrRent:        nl.BuyOrRent,
		BudgetMax:        nl.BudgetMax,
		Beds:             nl.Beds,
		Areas:            nl.Areas,
		UTMSource:        nl.UTMSource,
		UTMMedium:        nl.UTMMedium,
		UTMCampaign:      nl.UTMCampaign,
		Referrer:         nl.Referrer,
		ConsentContact:   nl.ConsentContact,
		ProcessingStatus: json.RawMessage(`{}`),
		CreatedAt:        start,
		UpdatedAt:        start,
	}
	t.s.leads = append(t.s.leads, l)
	return *l, nil
}

func (t *memTx) FillContact(_ context.Context, leadID uuid.UUID, c repository.Contact) (repository.Lead, error) {
	for _, l := range t.s.leads {
		if l.ID != leadID {
			continue
		}
		if l.Name == "" {
			l.Name = c.Name
		}
		if l.Email == "" {
			l.Email = c.Email
		}
		if l.Phone == "" {
			l.Phone = c.Phone
		}
		return *l, nil
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (t *memTx) InsertMessage(ctx context.Context, nm repository.NewMessage) (repository.Message, bool, error) {
	if nm.ExternalMessageID != "" {
		if existing, err := t.FindMessage(ctx, nm.OrganizationID, nm.Channel, nm.ExternalMessageID); err == nil {
			return existing, false, nil
		}
	}
	leadID := nm.LeadID
	m := repository.Message{
		ID:             uuid.New(),
		OrganizationID: nm.OrganizationID,
		LeadID:         &leadID,
		Channel:        nm.Channel,
		Direction:      nm.Direction,
		ThreadID:       nm.ThreadID,
		Body:           nm.Body,
		RawPayload:     nm.RawPayload,
		CreatedAt:      start,
	}
	if nm.ExternalMessageID != "" {
		ext := nm.ExternalMessageID
		m.ExternalMessageID = &ext
	}
	t.s.messages = append(t.s.messages, m)
	return m, true, nil
}

func (t *memTx) Savepoint(_ context.Context, fn func(q db.DBTX) error) error {
	t.s.savepoints++
	return fn(nil)
}

type captureOutbox struct {
	targets     map[string]bool
	leadTargets []string
	messages    []outbox.Message
	err         error
}

func newCaptureOutbox() *captureOutbox {
	return &captureOutbox{
		targets:     map[string]bool{outbox.TargetN8N: true, outbox.TargetHubSpot: true},
		leadTargets: []string{outbox.TargetN8N, outbox.TargetHubSpot},
	}
}

func (c *captureOutbox) Enqueue(_ context.Context, _ db.DBTX, msg outbox.Message) (outbox.Record, error) {
	if c.err != nil {
		return outbox.Record{}, c.err
	}
	c.messages = append(c.messages, msg)
	return outbox.Record{ID: uuid.New(), EventType: msg.Payload.EventType(), Target: msg.Target}, nil
}

func (c *captureOutbox) LeadTargets() []string      { return c.leadTargets }
func (c *captureOutbox) HasTarget(name string) bool { return c.targets[name] }

func (c *captureOutbox) eventTypes() []string {
	out := make([]string, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Target+"/"+m.Payload.EventType())
	}
	return out
}

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, e := range b.published {
		out = append(out, e.EventName())
	}
	return out
}

type stubResolver struct {
	match *resolver.Match
	err   error
	calls []resolver.Input
}

func (r *stubResolver) Resolve(_ context.Context, in resolver.Input) (*resolver.Match, error) {
	r.calls = append(r.calls, in)
	if r.match == nil {
		return nil, r.err
	}
	m := *r.match
	return &m, r.err
}
