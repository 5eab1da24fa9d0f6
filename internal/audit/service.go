package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AccountID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAdjust records a manual credit adjustment.
func (s *Service) LogAdminAdjust(ctx context.Context, accountID, actorUserID, actorRole, message, metadata string) error {
	return s.Append(ctx, Event{
		AccountID:   accountID,
		Type:        EventTypeAdminAdjust,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		Message:     message,
		Metadata:    metadata,
	})
}

// LogReconciliationIncident records a refund/status mismatch for a campaign.
// There is no multi-resource transaction spanning ledger and campaign, so a
// partial failure leaves the two stores inconsistent; this record is the
// investigation trail.
func (s *Service) LogReconciliationIncident(ctx context.Context, accountID, campaignID, message string) error {
	return s.Append(ctx, Event{
		AccountID:  accountID,
		Type:       EventTypeReconciliation,
		CampaignID: campaignID,
		Message:    message,
	})
}

// LogSessionDeleted records an explicit session delete (credential purge).
func (s *Service) LogSessionDeleted(ctx context.Context, accountID, actorUserID, sessionID string) error {
	return s.Append(ctx, Event{
		AccountID:   accountID,
		Type:        EventTypeSessionDeleted,
		ActorUserID: actorUserID,
		SessionID:   sessionID,
		Message:     "session deleted, credentials purged",
	})
}
