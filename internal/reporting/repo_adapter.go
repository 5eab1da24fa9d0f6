package reporting

import (
	"context"
	"time"

	"messaging-platform/internal/campaign"
	"messaging-platform/internal/credit"
)

// maxScan bounds how far back an adapter query walks. Accounts with more
// history than this need a dedicated reporting store.
const maxScan = 500

// StoreAdapter implements Repository on top of the campaign store and the
// credit service, filtering by time in-process.
type StoreAdapter struct {
	Campaigns campaign.Store
	Credits   *credit.Service
}

func (a StoreAdapter) ListCampaigns(ctx context.Context, accountID string, from, to time.Time) ([]campaign.Campaign, error) {
	all, err := a.Campaigns.ListByAccount(ctx, accountID, maxScan)
	if err != nil {
		return nil, err
	}
	out := make([]campaign.Campaign, 0, len(all))
	for _, c := range all {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (a StoreAdapter) ListTransactions(ctx context.Context, accountID string, from, to time.Time) ([]credit.Transaction, error) {
	all, err := a.Credits.Transactions(ctx, accountID, maxScan)
	if err != nil {
		return nil, err
	}
	out := make([]credit.Transaction, 0, len(all))
	for _, t := range all {
		if t.CreatedAt.Before(from) || !t.CreatedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
