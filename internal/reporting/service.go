package reporting

import (
	"context"
	"errors"
	"time"

	"messaging-platform/internal/campaign"
	"messaging-platform/internal/credit"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce account filtering.
// - Implementations should query immutable sources when possible
//   (credit transaction log, campaign records).
type Repository interface {
	ListCampaigns(ctx context.Context, accountID string, from, to time.Time) ([]campaign.Campaign, error)
	ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]credit.Transaction, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CampaignSummary(ctx context.Context, req CampaignSummaryRequest) (CampaignSummary, error) {
	if req.AccountID == "" {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CampaignSummary{}, ErrInvalidRequest
	}

	out := CampaignSummary{AccountID: req.AccountID, Range: req.Range}

	cs, err := s.repo.ListCampaigns(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignSummary{}, err
	}
	for _, c := range cs {
		out.Campaigns++
		switch c.Kind {
		case campaign.KindSingle:
			out.Singles++
		case campaign.KindBulk:
			out.Bulks++
		}
		switch c.Status {
		case campaign.StatusCompleted:
			out.Completed++
		case campaign.StatusFailed:
			out.Failed++
		case campaign.StatusCancelled:
			out.Cancelled++
		case campaign.StatusPending, campaign.StatusInProgress:
			out.InProgress++
		}
		out.Sent += c.Results.Sent
		out.FailedSends += c.Results.Failed
		out.SkippedSends += c.Results.Skipped
	}

	txns, err := s.repo.ListTransactions(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignSummary{}, err
	}
	for _, t := range txns {
		switch t.Kind {
		case credit.KindReserve:
			out.CreditsReserved += -t.Amount
		case credit.KindRefund:
			out.CreditsRefunded += t.Amount
		}
	}
	out.CreditsSpent = out.CreditsReserved - out.CreditsRefunded

	return out, nil
}
