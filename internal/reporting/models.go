package reporting

import "time"

type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type CampaignSummaryRequest struct {
	AccountID string
	Range     Range
}

// CampaignSummary aggregates delivery tallies and credit movement for an
// account over a time range. Counts come from campaign records; credit
// figures come from the immutable transaction log.
type CampaignSummary struct {
	AccountID string `json:"account_id"`
	Range     Range  `json:"range"`

	Campaigns  int `json:"campaigns"`
	Singles    int `json:"singles"`
	Bulks      int `json:"bulks"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	InProgress int `json:"in_progress"`

	Sent         int `json:"sent"`
	FailedSends  int `json:"failed_sends"`
	SkippedSends int `json:"skipped_sends"`

	CreditsReserved int64 `json:"credits_reserved"`
	CreditsRefunded int64 `json:"credits_refunded"`
	CreditsSpent    int64 `json:"credits_spent"`
}
