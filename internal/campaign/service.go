package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/credit"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/session"

	"github.com/google/uuid"
)

// Store abstracts campaign persistence. Campaigns are never deleted.
type Store interface {
	Create(ctx context.Context, c Campaign) error
	Get(ctx context.Context, accountID, id string) (Campaign, bool, error)
	Update(ctx context.Context, c Campaign) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]Campaign, error)
}

// SessionDirectory is the slice of the session supervisor the orchestrator
// needs: a connected handle or a definitive error.
type SessionDirectory interface {
	ConnectedConn(ctx context.Context, sessionID string) (session.Conn, error)
}

// Dispatcher is the slice of the dispatch engine the orchestrator needs.
type Dispatcher interface {
	Run(ctx context.Context, conn session.Conn, msg dispatch.Message, recipients []string, opts dispatch.Options) (dispatch.Result, error)
}

// BulkLimiter caps concurrent detached bulk loops per account.
type BulkLimiter interface {
	Acquire(ctx context.Context, accountID string) (bool, error)
	Release(ctx context.Context, accountID string) error
}

var (
	ErrValidation       = errors.New("campaign: invalid request")
	ErrNotFound         = errors.New("campaign: not found")
	ErrAlreadyExists    = errors.New("campaign: already exists")
	ErrAlreadyFinal     = errors.New("campaign: already in a terminal state")
	ErrBulkLimitReached = errors.New("campaign: too many concurrent bulk campaigns")
)

// Config tunes orchestration behavior; zero values get defaults.
type Config struct {
	BulkMaxRecipients  int
	BulkMessageDelay   time.Duration
	VerifyRegistration bool
}

func (c Config) withDefaults() Config {
	out := c
	if out.BulkMaxRecipients <= 0 {
		out.BulkMaxRecipients = 1000
	}
	if out.BulkMessageDelay <= 0 {
		out.BulkMessageDelay = 2 * time.Second
	}
	return out
}

// SendRequest is a create-campaign request from the API layer.
type SendRequest struct {
	AccountID  string   `json:"-"`
	SessionID  string   `json:"session_id"`
	Recipients []string `json:"recipients"`
	Text       string   `json:"text,omitempty"`
	MediaRef   string   `json:"media_ref,omitempty"`
	Caption    string   `json:"caption,omitempty"`
}

// Service sequences the campaign pipeline:
// create → reserve → dispatch → settle → finalize.
//
// Contract:
// - Validation fails fast with zero side effects.
// - Reservation failure rejects the whole request; nothing is persisted.
// - After reservation, every failure path attempts the compensating refund
//   before or alongside marking the campaign FAILED/CANCELLED; the Deducted
//   flag is the idempotency gate against double refunds.
// - Status transitions follow the graph in models.go; transitions are
//   serialized under mu so a detached bulk finalizer and a user cancel can
//   never both win.
type Service struct {
	store   Store
	credits *credit.Service
	conns   SessionDirectory
	engine  Dispatcher
	auditor *audit.Service
	limiter BulkLimiter
	log     *slog.Logger
	cfg     Config
	clock   func() time.Time

	// mu guards status transitions and the cancel registry.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewService(store Store, credits *credit.Service, conns SessionDirectory, engine Dispatcher, auditor *audit.Service, limiter BulkLimiter, log *slog.Logger, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = noopLimiter{}
	}
	return &Service{
		store:   store,
		credits: credits,
		conns:   conns,
		engine:  engine,
		auditor: auditor,
		limiter: limiter,
		log:     log,
		cfg:     cfg.withDefaults(),
		clock:   time.Now,
		cancels: map[string]context.CancelFunc{},
	}
}

type noopLimiter struct{}

func (noopLimiter) Acquire(ctx context.Context, accountID string) (bool, error) { return true, nil }
func (noopLimiter) Release(ctx context.Context, accountID string) error         { return nil }

// Send validates, reserves credits and dispatches.
//
// Single sends return the final campaign synchronously (definitive
// pass/fail). Bulk sends return the accepted IN_PROGRESS campaign
// immediately; the loop runs detached and the caller polls for tallies.
func (s *Service) Send(ctx context.Context, req SendRequest) (Campaign, error) {
	if err := s.validate(req); err != nil {
		return Campaign{}, err
	}

	kind := KindSingle
	if len(req.Recipients) > 1 {
		kind = KindBulk
	}

	now := s.clock().UTC()
	hasMedia := req.MediaRef != ""
	perUnit := CostPerUnit(hasMedia)
	c := Campaign{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Kind:      kind,
		Message: MessageSpec{
			Text:     req.Text,
			HasMedia: hasMedia,
			MediaRef: req.MediaRef,
			Caption:  req.Caption,
		},
		Recipients: Recipients{Total: len(req.Recipients), List: req.Recipients},
		Credits: Credits{
			CostPerUnit: perUnit,
			TotalCost:   perUnit * int64(len(req.Recipients)),
		},
		SessionID: req.SessionID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if kind == KindBulk {
		ok, err := s.limiter.Acquire(ctx, req.AccountID)
		if err != nil {
			return Campaign{}, fmt.Errorf("bulk limiter: %w", err)
		}
		if !ok {
			return Campaign{}, ErrBulkLimitReached
		}
	}

	// Reserve before any persisted side effect: a failed reservation leaves
	// no campaign artifact behind.
	if _, err := s.credits.Reserve(ctx, c.AccountID, c.Credits.TotalCost, c.ID); err != nil {
		if kind == KindBulk {
			_ = s.limiter.Release(ctx, c.AccountID)
		}
		return Campaign{}, err
	}
	c.Credits.Deducted = true
	c.Status = StatusInProgress
	startedAt := s.clock().UTC()
	c.StartedAt = &startedAt
	c.UpdatedAt = startedAt

	if err := s.store.Create(ctx, c); err != nil {
		// The reservation went through but the record did not. Compensate
		// and surface the persistence failure.
		s.compensate(ctx, &c, "campaign create failed")
		if kind == KindBulk {
			_ = s.limiter.Release(ctx, c.AccountID)
		}
		return Campaign{}, fmt.Errorf("persist campaign: %w", err)
	}

	conn, err := s.conns.ConnectedConn(ctx, c.SessionID)
	if err != nil {
		// Failing to obtain a connected session is a dispatch exception.
		final := s.finalizeFailure(ctx, c.AccountID, c.ID, err)
		if kind == KindBulk {
			_ = s.limiter.Release(ctx, c.AccountID)
		}
		return final, err
	}

	msg := dispatch.Message{Text: c.Message.Text, MediaRef: c.Message.MediaRef, Caption: c.Message.Caption}

	if kind == KindSingle {
		res, err := s.engine.Run(ctx, conn, msg, c.Recipients.List, dispatch.Options{
			FailFast:           true,
			VerifyRegistration: s.cfg.VerifyRegistration,
		})
		if err != nil {
			return s.finalizeFailure(ctx, c.AccountID, c.ID, err), err
		}
		return s.finalizeComplete(ctx, c.AccountID, c.ID, res)
	}

	// Bulk: detach the loop, report tallies back over a completion channel.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[c.ID] = cancel
	// A cancel can land between the record persist above and this
	// registration. It would have found no loop to stop, so re-check the
	// persisted status under the same lock Cancel holds and start the loop
	// pre-cancelled if it already settled the campaign.
	if cur, ok, err := s.store.Get(ctx, c.AccountID, c.ID); err == nil && ok && cur.Status == StatusCancelled {
		cancel()
	}
	s.mu.Unlock()

	type outcome struct {
		res dispatch.Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := s.engine.Run(loopCtx, conn, msg, c.Recipients.List, dispatch.Options{
			Delay:              s.cfg.BulkMessageDelay,
			VerifyRegistration: s.cfg.VerifyRegistration,
		})
		done <- outcome{res: res, err: err}
	}()

	go func() {
		out := <-done
		s.settleBulk(c.AccountID, c.ID, out.res, out.err)
		s.mu.Lock()
		delete(s.cancels, c.ID)
		s.mu.Unlock()
		cancel()
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		_ = s.limiter.Release(relCtx, c.AccountID)
	}()

	return c, nil
}

func (s *Service) validate(req SendRequest) error {
	if req.AccountID == "" {
		return fmt.Errorf("%w: account id required", ErrValidation)
	}
	if req.SessionID == "" {
		return fmt.Errorf("%w: session id required", ErrValidation)
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient required", ErrValidation)
	}
	if len(req.Recipients) > s.cfg.BulkMaxRecipients {
		return fmt.Errorf("%w: recipient count %d exceeds max %d", ErrValidation, len(req.Recipients), s.cfg.BulkMaxRecipients)
	}
	if req.Text == "" && req.MediaRef == "" {
		return fmt.Errorf("%w: message needs text or media", ErrValidation)
	}
	return nil
}

// settleBulk finalizes a detached bulk loop. A campaign cancelled mid-loop
// stays CANCELLED; the loop's partial tallies are recorded on it without
// another refund (Cancel already settled the ledger).
func (s *Service) settleBulk(accountID, id string, res dispatch.Result, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.store.Get(ctx, accountID, id)
	if err != nil || !ok {
		s.log.Error("bulk settle: campaign lookup failed", "campaign_id", id, "err", err)
		return
	}

	if c.Status == StatusCancelled {
		c.Results = Results{Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped}
		c.UpdatedAt = s.clock().UTC()
		if err := s.store.Update(ctx, c); err != nil {
			s.log.Error("bulk settle: tally update failed", "campaign_id", id, "err", err)
		}
		return
	}
	if c.Status.Terminal() {
		return
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		s.failLocked(ctx, &c, res, runErr)
		return
	}

	// Per-recipient failed/skipped tallies do not trigger refunds in bulk
	// mode; only a full-campaign cancel settles credits back.
	now := s.clock().UTC()
	c.Status = StatusCompleted
	c.Results = Results{Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped}
	c.CompletedAt = &now
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		s.log.Error("bulk settle: completion update failed", "campaign_id", id, "err", err)
		s.incident(ctx, c.AccountID, c.ID, "bulk completed but status update failed")
	}
}

func (s *Service) finalizeComplete(ctx context.Context, accountID, id string, res dispatch.Result) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.store.Get(ctx, accountID, id)
	if err != nil {
		return Campaign{}, fmt.Errorf("persist campaign: %w", err)
	}
	if !ok {
		return Campaign{}, ErrNotFound
	}
	if c.Status.Terminal() {
		return c, nil
	}

	now := s.clock().UTC()
	c.Status = StatusCompleted
	c.Results = Results{Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped}
	c.CompletedAt = &now
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		s.incident(ctx, c.AccountID, c.ID, "completed but status update failed")
		return c, fmt.Errorf("persist campaign: %w", err)
	}
	return c, nil
}

func (s *Service) finalizeFailure(ctx context.Context, accountID, id string, cause error) Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.store.Get(ctx, accountID, id)
	if err != nil || !ok {
		s.log.Error("finalize failure: campaign lookup failed", "campaign_id", id, "err", err)
		return Campaign{}
	}
	if c.Status.Terminal() {
		return c
	}
	s.failLocked(ctx, &c, dispatch.Result{}, cause)
	return c
}

// failLocked refunds (gated by Deducted) and marks FAILED. Caller holds mu.
func (s *Service) failLocked(ctx context.Context, c *Campaign, res dispatch.Result, cause error) {
	s.compensate(ctx, c, cause.Error())

	now := s.clock().UTC()
	c.Status = StatusFailed
	c.Results = Results{Sent: res.Sent, Failed: res.Failed, Skipped: res.Skipped}
	c.Error = cause.Error()
	c.CompletedAt = &now
	c.UpdatedAt = now
	if err := s.store.Update(ctx, *c); err != nil {
		s.log.Error("failure update failed", "campaign_id", c.ID, "err", err)
		s.incident(ctx, c.AccountID, c.ID, "refunded but FAILED status update failed")
	}
}

// compensate refunds the full reserved cost exactly once, gated by Deducted.
func (s *Service) compensate(ctx context.Context, c *Campaign, reason string) {
	if !c.Credits.Deducted {
		return
	}
	if _, err := s.credits.Refund(ctx, c.AccountID, c.Credits.TotalCost, c.ID, reason); err != nil {
		s.log.Error("refund failed", "campaign_id", c.ID, "err", err)
		s.incident(ctx, c.AccountID, c.ID, "refund failed: "+err.Error())
		return
	}
	c.Credits.Deducted = false
}

func (s *Service) incident(ctx context.Context, accountID, campaignID, message string) {
	if s.auditor == nil {
		s.log.Error("reconciliation incident", "campaign_id", campaignID, "msg", message)
		return
	}
	if err := s.auditor.LogReconciliationIncident(ctx, accountID, campaignID, message); err != nil {
		s.log.Error("reconciliation incident (audit append failed)",
			"campaign_id", campaignID, "msg", message, "err", err)
	}
}

// Cancel stops a PENDING/IN_PROGRESS campaign: refund (idempotent, gated by
// Deducted), mark CANCELLED, and flag the detached bulk loop to stop between
// recipients. Cancelling a terminal campaign is rejected.
func (s *Service) Cancel(ctx context.Context, accountID, id string) (Campaign, error) {
	if accountID == "" || id == "" {
		return Campaign{}, fmt.Errorf("%w: account and campaign id required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.store.Get(ctx, accountID, id)
	if err != nil {
		return Campaign{}, fmt.Errorf("persist campaign: %w", err)
	}
	if !ok {
		return Campaign{}, ErrNotFound
	}
	if !canTransition(c.Status, StatusCancelled) {
		return Campaign{}, ErrAlreadyFinal
	}

	if cancel, live := s.cancels[id]; live {
		cancel()
	}

	s.compensate(ctx, &c, "campaign cancelled")

	now := s.clock().UTC()
	c.Status = StatusCancelled
	c.CompletedAt = &now
	c.UpdatedAt = now
	if err := s.store.Update(ctx, c); err != nil {
		s.incident(ctx, c.AccountID, c.ID, "refunded but CANCELLED status update failed")
		return Campaign{}, fmt.Errorf("persist campaign: %w", err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, accountID, id string) (Campaign, error) {
	if accountID == "" || id == "" {
		return Campaign{}, fmt.Errorf("%w: account and campaign id required", ErrValidation)
	}
	c, ok, err := s.store.Get(ctx, accountID, id)
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, accountID string, limit int) ([]Campaign, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id required", ErrValidation)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}
