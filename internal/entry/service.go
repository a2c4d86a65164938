package entry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"idcollect/internal/audit"
	"idcollect/internal/email"
	"idcollect/internal/platform/metrics"
	"idcollect/internal/secrets"
	"idcollect/internal/token"
	"idcollect/internal/verifier"
	dErrors "idcollect/pkg/domain-errors"
)

// ResendWarningThreshold is where the resend response starts carrying a
// warning that the customer keeps not responding.
const ResendWarningThreshold = 3

// Service owns list lifecycle and link dispatch. Verification outcomes are
// applied by the verification service; both go through the same Store.
type Service struct {
	store   Store
	tokens  *token.Service
	sender  email.Sender
	auditor *audit.Service
	gateway *secrets.Gateway
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL string
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, tokens *token.Service, sender email.Sender,
	auditor *audit.Service, gateway *secrets.Gateway, baseURL string, opts ...Option) (*Service, error) {
	if store == nil || tokens == nil || sender == nil || auditor == nil || gateway == nil {
		return nil, fmt.Errorf("store, tokens, sender, auditor and gateway are required")
	}

	svc := &Service{
		store:   store,
		tokens:  tokens,
		sender:  sender,
		auditor: auditor,
		gateway: gateway,
		baseURL: baseURL,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateListInput is the normalized upload shape handed over by the parsing
// collaborator.
type CreateListInput struct {
	Name        string
	FileName    string
	Columns     []string
	EmailColumn string
	Type        ListType
	Rows        []map[string]any
}

// CreateList materializes a list and its entries, all pending.
func (s *Service) CreateList(ctx context.Context, in CreateListInput, actorID string) (*List, error) {
	if in.Name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "list name is required")
	}
	if len(in.Rows) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "list has no rows")
	}
	if in.Type == "" {
		in.Type = ListTypeUnknown
	}

	now := s.now()
	list := &List{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Columns:     in.Columns,
		EmailColumn: in.EmailColumn,
		Type:        in.Type,
		FileName:    in.FileName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	entries := make([]*Entry, 0, len(in.Rows))
	for _, row := range in.Rows {
		e := &Entry{
			ID:               uuid.NewString(),
			ListID:           list.ID,
			Data:             row,
			Status:           StatusPending,
			VerificationType: defaultIdentityType(in.Type),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if in.EmailColumn != "" {
			if v, ok := row[in.EmailColumn].(string); ok {
				e.Email = strings.TrimSpace(v)
			}
		}
		e.DisplayName = displayName(e)
		entries = append(entries, e)
	}

	if err := s.store.CreateList(ctx, list, entries); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Event{
		ListID:    list.ID,
		Action:    audit.ActionListCreated,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details: map[string]any{
			"name":    list.Name,
			"entries": len(entries),
			"type":    list.Type,
		},
	})
	return list, nil
}

func (s *Service) GetList(ctx context.Context, listID string) (*List, *Stats, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.store.ListStats(ctx, listID)
	if err != nil {
		return nil, nil, err
	}
	return list, stats, nil
}

func (s *Service) Lists(ctx context.Context) ([]*List, error) {
	return s.store.Lists(ctx)
}

// Stats returns the live status counters for one list.
func (s *Service) Stats(ctx context.Context, listID string) (*Stats, error) {
	return s.store.ListStats(ctx, listID)
}

func (s *Service) ListEntries(ctx context.Context, listID string, filter Filter) ([]*Entry, int, error) {
	return s.store.ListEntries(ctx, listID, filter)
}

func (s *Service) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	return s.store.GetEntry(ctx, entryID)
}

// DeleteList removes the list, its entries, and its audit trail, then
// records the deletion itself.
func (s *Service) DeleteList(ctx context.Context, listID string, actorID string) error {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteList(ctx, listID); err != nil {
		return err
	}
	if err := s.auditor.DeleteByList(ctx, listID); err != nil {
		return err
	}
	return s.auditor.Emit(ctx, audit.Event{
		ListID:    listID,
		Action:    audit.ActionListDeleted,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"name": list.Name},
	})
}

// SendTarget names one entry to dispatch a link to.
type SendTarget struct {
	EntryID      string
	IdentityType verifier.IdentityType
}

// SendResult summarizes a dispatch batch.
type SendResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// SendToTargets dispatches verification links for a confirmed selection.
// Failures are committed per entry and do not stop the batch.
func (s *Service) SendToTargets(ctx context.Context, listID string, targets []SendTarget, actorID string) (*SendResult, error) {
	res := &SendResult{}
	for _, target := range targets {
		if err := s.sendOne(ctx, target.EntryID, target.IdentityType); err != nil {
			res.Failed++
			s.logger.WarnContext(ctx, "link dispatch failed",
				"entry_id", target.EntryID,
				"error", err,
			)
			continue
		}
		res.Sent++
	}

	s.auditor.Record(ctx, audit.Event{
		ListID:    listID,
		Action:    audit.ActionLinksSent,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"sent": res.Sent, "failed": res.Failed},
	})
	return res, nil
}

// Resend invalidates the outstanding link and sends a fresh one. Returns a
// warning once the customer has been re-contacted more than the threshold.
func (s *Service) Resend(ctx context.Context, entryID string, actorID string) (*Entry, bool, error) {
	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, false, err
	}
	if e.Status == StatusVerified {
		return nil, false, dErrors.New(dErrors.CodeConflict, "cannot resend a link for a verified entry")
	}
	if err := ValidateEmail(e.Email); err != nil {
		return nil, false, err
	}

	if err := s.tokens.Invalidate(ctx, entryID); err != nil {
		return nil, false, err
	}
	tok, err := s.tokens.Issue(ctx, entryID)
	if err != nil {
		return nil, false, err
	}
	if err := s.deliver(ctx, e, tok); err != nil {
		updated, uerr := s.store.UpdateEntry(ctx, entryID, func(cur *Entry) error {
			return cur.MarkEmailFailed(err.Error(), s.now())
		})
		if uerr != nil {
			return nil, false, uerr
		}
		s.recordSendFailure(ctx, updated, actorID, err)
		return updated, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "email dispatch failed")
	}

	updated, err := s.store.UpdateEntry(ctx, entryID, func(cur *Entry) error {
		return cur.MarkResent(s.now())
	})
	if err != nil {
		return nil, false, err
	}

	s.auditor.Record(ctx, audit.Event{
		ListID:    updated.ListID,
		EntryID:   updated.ID,
		Action:    audit.ActionLinkResent,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"resendCount": updated.ResendCount},
	})
	return updated, updated.ResendCount > ResendWarningThreshold, nil
}

func (s *Service) sendOne(ctx context.Context, entryID string, typ verifier.IdentityType) error {
	e, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.Status == StatusVerified {
		return dErrors.New(dErrors.CodeConflict, "entry is already verified")
	}
	if err := ValidateEmail(e.Email); err != nil {
		return err
	}

	tok, err := s.tokens.Issue(ctx, entryID)
	if err != nil {
		if _, uerr := s.store.UpdateEntry(ctx, entryID, func(cur *Entry) error {
			return cur.MarkDispatchFailed("token issue failed", s.now())
		}); uerr != nil {
			return uerr
		}
		return err
	}

	e.VerificationType = typ
	if err := s.deliver(ctx, e, tok); err != nil {
		updated, uerr := s.store.UpdateEntry(ctx, entryID, func(cur *Entry) error {
			cur.VerificationType = typ
			return cur.MarkEmailFailed(err.Error(), s.now())
		})
		if uerr != nil {
			return uerr
		}
		s.recordSendFailure(ctx, updated, "", err)
		return err
	}

	if _, err := s.store.UpdateEntry(ctx, entryID, func(cur *Entry) error {
		cur.VerificationType = typ
		return cur.MarkLinkSent(s.now())
	}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.LinksSent.Inc()
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, e *Entry, tok *token.Token) error {
	name := e.DisplayName
	if name == "" {
		name = email.DeriveNameFromEmail(e.Email)
	}
	msg, err := email.Render(email.VerificationData{
		RecipientName: name,
		IdentityLabel: email.IdentityLabel(e.VerificationType),
		URL:           email.VerificationURL(s.baseURL, tok.Value),
		ExpiresAt:     tok.ExpiresAt,
	})
	if err != nil {
		return err
	}
	msg.To = e.Email
	return s.sender.Send(ctx, msg)
}

func (s *Service) recordSendFailure(ctx context.Context, e *Entry, actorID string, cause error) {
	s.auditor.Record(ctx, audit.Event{
		ListID:    e.ListID,
		EntryID:   e.ID,
		Action:    audit.ActionLinkSendFailed,
		ActorType: audit.ActorAdmin,
		ActorID:   actorID,
		Details:   map[string]any{"error": cause.Error()},
	})
}

func defaultIdentityType(t ListType) verifier.IdentityType {
	if t == ListTypeCorporate {
		return verifier.TypeCAC
	}
	return verifier.TypeNIN
}

func displayName(e *Entry) string {
	if e.VerificationType == verifier.TypeCAC {
		if name := e.DataValue("companyname", "businessname", "company"); name != "" {
			return name
		}
	}
	first := e.DataValue("firstname", "givenname")
	last := e.DataValue("lastname", "surname", "familyname")
	switch {
	case first != "" && last != "":
		return first + " " + last
	case first != "":
		return first
	case last != "":
		return last
	default:
		return e.DataValue("name", "fullname")
	}
}
