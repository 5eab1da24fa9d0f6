package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"messaging-platform/internal/audit"
	"messaging-platform/internal/credit"
	"messaging-platform/internal/dispatch"
	"messaging-platform/internal/session"
)

type stubConn struct{}

func (stubConn) Events() <-chan session.Event { return nil }
func (stubConn) Send(ctx context.Context, address string, msg session.Payload) error {
	return nil
}
func (stubConn) CheckRegistered(ctx context.Context, address string) (bool, error) {
	return true, nil
}
func (stubConn) Close() error { return nil }

type fakeDirectory struct {
	conn session.Conn
	err  error
}

func (d *fakeDirectory) ConnectedConn(ctx context.Context, sessionID string) (session.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// fakeDispatcher returns a scripted outcome. When block is set the run
// parks until the channel closes or the context ends, standing in for a
// long bulk loop.
type fakeDispatcher struct {
	mu      sync.Mutex
	res     dispatch.Result
	err     error
	block   chan struct{}
	runs    int
	ctxDone bool
	lastOpt dispatch.Options
}

func (d *fakeDispatcher) Run(ctx context.Context, conn session.Conn, msg dispatch.Message, recipients []string, opts dispatch.Options) (dispatch.Result, error) {
	d.mu.Lock()
	d.runs++
	d.lastOpt = opts
	block := d.block
	res, err := d.res, d.err
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			d.mu.Lock()
			d.ctxDone = true
			d.mu.Unlock()
			return res, ctx.Err()
		}
	}
	return res, err
}

func (d *fakeDispatcher) runCancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctxDone
}

type fakeLimiter struct {
	mu       sync.Mutex
	reject   bool
	acquires int
	releases int
}

func (l *fakeLimiter) Acquire(ctx context.Context, accountID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reject {
		return false, nil
	}
	l.acquires++
	return true, nil
}

func (l *fakeLimiter) Release(ctx context.Context, accountID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releases++
	return nil
}

func (l *fakeLimiter) released() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releases
}

type harness struct {
	svc     *Service
	store   *MemoryStore
	credits *credit.Service
	ledger  *credit.MemoryRepo
	disp    *fakeDispatcher
	dir     *fakeDirectory
	limiter *fakeLimiter
	events  *audit.MemoryRepo
}

func newHarness(t *testing.T, balance int64) *harness {
	t.Helper()
	ledger := credit.NewMemoryRepo()
	ledger.Seed("acct-1", balance)
	store := NewMemoryStore()
	credits := credit.NewService(ledger)
	disp := &fakeDispatcher{res: dispatch.Result{Sent: 1}}
	dir := &fakeDirectory{conn: stubConn{}}
	limiter := &fakeLimiter{}
	events := audit.NewMemoryRepo()
	svc := NewService(store, credits, dir, disp, audit.NewService(events), limiter,
		nil, Config{BulkMaxRecipients: 5, BulkMessageDelay: time.Millisecond})
	return &harness{svc: svc, store: store, credits: credits, ledger: ledger, disp: disp, dir: dir, limiter: limiter, events: events}
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	bal, err := h.credits.Balance(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func waitCampaignStatus(t *testing.T, store *MemoryStore, id string, want Status) Campaign {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, ok, err := store.Get(context.Background(), "acct-1", id)
		if err != nil {
			t.Fatalf("get campaign: %v", err)
		}
		if ok && c.Status == want {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("campaign %s never reached %s", id, want)
	return Campaign{}
}

func TestSendSingleCompletes(t *testing.T) {
	h := newHarness(t, 10)

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", c.Status, StatusCompleted)
	}
	if c.Results.Sent != 1 {
		t.Fatalf("sent = %d, want 1", c.Results.Sent)
	}
	if c.Credits.TotalCost != 1 || !c.Credits.Deducted {
		t.Fatalf("credits = %+v, want cost 1 deducted", c.Credits)
	}
	if got := h.balance(t); got != 9 {
		t.Fatalf("balance = %d, want 9", got)
	}
	if !h.disp.lastOpt.FailFast {
		t.Fatal("single send must dispatch fail-fast")
	}
	if c.StartedAt == nil || c.CompletedAt == nil {
		t.Fatal("started/completed timestamps not set")
	}
}

func TestSendMediaCostsDouble(t *testing.T) {
	h := newHarness(t, 10)
	h.disp.res = dispatch.Result{Sent: 3}

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"a", "b", "c"},
		MediaRef:   "https://cdn.example/pic.jpg",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Credits.CostPerUnit != 2 || c.Credits.TotalCost != 6 {
		t.Fatalf("credits = %+v, want per-unit 2 total 6", c.Credits)
	}
	waitCampaignStatus(t, h.store, c.ID, StatusCompleted)
	if got := h.balance(t); got != 4 {
		t.Fatalf("balance = %d, want 4", got)
	}
}

func TestSendInsufficientBalanceLeavesNoRecord(t *testing.T) {
	h := newHarness(t, 1)

	_, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"a", "b", "c"},
		Text:       "hi",
	})
	if !errors.Is(err, credit.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := h.balance(t); got != 1 {
		t.Fatalf("balance = %d, want untouched 1", got)
	}
	list, err := h.store.ListByAccount(context.Background(), "acct-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected send persisted %d campaigns, want 0", len(list))
	}
	if h.limiter.released() != 1 {
		t.Fatalf("bulk cap not released on rejection, releases = %d", h.limiter.released())
	}
}

func TestSendSingleFailureRefunds(t *testing.T) {
	h := newHarness(t, 10)
	h.disp.err = errors.New("send to +1: connection reset")
	h.disp.res = dispatch.Result{}

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100"},
		Text:       "hi",
	})
	if err == nil {
		t.Fatal("expected dispatch error")
	}
	if c.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", c.Status, StatusFailed)
	}
	if c.Credits.Deducted {
		t.Fatal("deducted flag still set after refund")
	}
	if c.Error == "" {
		t.Fatal("failure reason not recorded")
	}
	if got := h.balance(t); got != 10 {
		t.Fatalf("balance = %d, want refunded 10", got)
	}

	txns, err := h.credits.Transactions(context.Background(), "acct-1", 10)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var reserves, refunds int
	for _, txn := range txns {
		if txn.CampaignID != c.ID {
			continue
		}
		switch txn.Kind {
		case credit.KindReserve:
			reserves++
		case credit.KindRefund:
			refunds++
		}
	}
	if reserves != 1 || refunds != 1 {
		t.Fatalf("ledger has %d reserves and %d refunds for campaign, want 1 and 1", reserves, refunds)
	}
}

func TestSendSessionNotConnectedFailsAndRefunds(t *testing.T) {
	h := newHarness(t, 10)
	h.dir.err = session.ErrSessionNotConnected

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100"},
		Text:       "hi",
	})
	if !errors.Is(err, session.ErrSessionNotConnected) {
		t.Fatalf("err = %v, want ErrSessionNotConnected", err)
	}
	if c.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", c.Status, StatusFailed)
	}
	if got := h.balance(t); got != 10 {
		t.Fatalf("balance = %d, want refunded 10", got)
	}
}

func TestSendBulkDetachesAndSettles(t *testing.T) {
	h := newHarness(t, 10)
	h.disp.block = make(chan struct{})
	h.disp.res = dispatch.Result{Sent: 2, Failed: 1}

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"a", "b", "c"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if c.Status != StatusInProgress {
		t.Fatalf("status = %s, want accepted %s", c.Status, StatusInProgress)
	}
	if c.Results.Sent != 0 {
		t.Fatalf("tallies reported before the loop ran: %+v", c.Results)
	}

	close(h.disp.block)
	final := waitCampaignStatus(t, h.store, c.ID, StatusCompleted)
	if final.Results != (Results{Sent: 2, Failed: 1}) {
		t.Fatalf("results = %+v, want sent 2 failed 1", final.Results)
	}
	if final.Credits.Deducted != true {
		t.Fatal("completed bulk must keep credits consumed")
	}
	if got := h.balance(t); got != 7 {
		t.Fatalf("balance = %d, want 7 (no per-recipient refunds)", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.limiter.released() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.limiter.released() != 1 {
		t.Fatalf("bulk cap releases = %d, want 1", h.limiter.released())
	}
}

func TestCancelBulkRefundsOnce(t *testing.T) {
	h := newHarness(t, 10)
	h.disp.block = make(chan struct{})
	h.disp.res = dispatch.Result{Sent: 1}

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"a", "b", "c"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got, err := h.svc.Cancel(context.Background(), "acct-1", c.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", got.Status, StatusCancelled)
	}
	if got.Credits.Deducted {
		t.Fatal("deducted flag still set after cancel refund")
	}
	if bal := h.balance(t); bal != 10 {
		t.Fatalf("balance = %d, want refunded 10", bal)
	}

	// The detached loop observes the cancellation and settles without
	// flipping the status or refunding again.
	deadline := time.Now().Add(2 * time.Second)
	for h.limiter.released() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	after, ok, err := h.store.Get(context.Background(), "acct-1", c.ID)
	if err != nil || !ok {
		t.Fatalf("get after settle: ok=%v err=%v", ok, err)
	}
	if after.Status != StatusCancelled {
		t.Fatalf("settle overwrote cancel: status = %s", after.Status)
	}
	if bal := h.balance(t); bal != 10 {
		t.Fatalf("balance = %d after settle, want still 10", bal)
	}

	if _, err := h.svc.Cancel(context.Background(), "acct-1", c.ID); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("second cancel err = %v, want ErrAlreadyFinal", err)
	}
}

func TestCancelCompletedRejected(t *testing.T) {
	h := newHarness(t, 10)

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.svc.Cancel(context.Background(), "acct-1", c.ID); !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("cancel completed err = %v, want ErrAlreadyFinal", err)
	}
	if got := h.balance(t); got != 9 {
		t.Fatalf("balance = %d, cancel of a completed campaign must not refund", got)
	}
}

func TestSendBulkLimiterRejects(t *testing.T) {
	h := newHarness(t, 10)
	h.limiter.reject = true

	_, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"a", "b"},
		Text:       "hi",
	})
	if !errors.Is(err, ErrBulkLimitReached) {
		t.Fatalf("err = %v, want ErrBulkLimitReached", err)
	}
	if got := h.balance(t); got != 10 {
		t.Fatalf("balance = %d, want untouched 10", got)
	}
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t, 10)

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"no recipients", SendRequest{AccountID: "acct-1", SessionID: "s", Text: "hi"}},
		{"no body", SendRequest{AccountID: "acct-1", SessionID: "s", Recipients: []string{"a"}}},
		{"no session", SendRequest{AccountID: "acct-1", Recipients: []string{"a"}, Text: "hi"}},
		{"too many recipients", SendRequest{AccountID: "acct-1", SessionID: "s",
			Recipients: []string{"a", "b", "c", "d", "e", "f"}, Text: "hi"}},
	}
	for _, tc := range cases {
		if _, err := h.svc.Send(context.Background(), tc.req); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tc.name, err)
		}
	}
	if got := h.balance(t); got != 10 {
		t.Fatalf("balance = %d, validation failures must not touch the ledger", got)
	}
}

func TestGetAndListScopedToAccount(t *testing.T) {
	h := newHarness(t, 10)

	c, err := h.svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := h.svc.Get(context.Background(), "acct-2", c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-account get err = %v, want ErrNotFound", err)
	}
	got, err := h.svc.Get(context.Background(), "acct-1", c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != c.ID {
		t.Fatalf("got campaign %s, want %s", got.ID, c.ID)
	}

	list, err := h.svc.List(context.Background(), "acct-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list returned %d campaigns, want 1", len(list))
	}
}

// failingUpdateStore persists the initial record but rejects every status
// update, forcing the ledger and the campaign record out of step.
type failingUpdateStore struct {
	*MemoryStore
}

func (s *failingUpdateStore) Update(ctx context.Context, c Campaign) error {
	return errors.New("storage offline")
}

func TestRefundWithoutStatusUpdateRecordsIncident(t *testing.T) {
	ledger := credit.NewMemoryRepo()
	ledger.Seed("acct-1", 10)
	credits := credit.NewService(ledger)
	store := &failingUpdateStore{MemoryStore: NewMemoryStore()}
	disp := &fakeDispatcher{err: errors.New("gateway down")}
	events := audit.NewMemoryRepo()
	svc := NewService(store, credits, &fakeDirectory{conn: stubConn{}}, disp,
		audit.NewService(events), &fakeLimiter{},
		nil, Config{BulkMaxRecipients: 5, BulkMessageDelay: time.Millisecond})

	c, err := svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100"},
		Text:       "hi",
	})
	if err == nil {
		t.Fatal("expected dispatch error")
	}

	// The refund went through even though the record could not be marked.
	bal, err := credits.Balance(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 10 {
		t.Fatalf("balance = %d, want 10 after refund", bal)
	}

	var incidents []audit.Event
	for _, ev := range events.Events() {
		if ev.Type == audit.EventTypeReconciliation {
			incidents = append(incidents, ev)
		}
	}
	if len(incidents) != 1 {
		t.Fatalf("reconciliation incidents = %d, want 1", len(incidents))
	}
	if incidents[0].CampaignID != c.ID {
		t.Fatalf("incident campaign = %q, want %q", incidents[0].CampaignID, c.ID)
	}
	if incidents[0].AccountID != "acct-1" {
		t.Fatalf("incident account = %q, want acct-1", incidents[0].AccountID)
	}
}

// cancelOnCreateStore cancels the campaign the instant its record lands,
// before the send path has registered the bulk loop's cancel func.
type cancelOnCreateStore struct {
	*MemoryStore
	svc *Service
}

func (s *cancelOnCreateStore) Create(ctx context.Context, c Campaign) error {
	if err := s.MemoryStore.Create(ctx, c); err != nil {
		return err
	}
	if _, err := s.svc.Cancel(ctx, c.AccountID, c.ID); err != nil {
		return err
	}
	return nil
}

func TestCancelBeforeLoopRegistrationStopsLoop(t *testing.T) {
	ledger := credit.NewMemoryRepo()
	ledger.Seed("acct-1", 10)
	credits := credit.NewService(ledger)
	store := &cancelOnCreateStore{MemoryStore: NewMemoryStore()}
	disp := &fakeDispatcher{block: make(chan struct{})}
	limiter := &fakeLimiter{}
	events := audit.NewMemoryRepo()
	svc := NewService(store, credits, &fakeDirectory{conn: stubConn{}}, disp,
		audit.NewService(events), limiter,
		nil, Config{BulkMaxRecipients: 5, BulkMessageDelay: time.Millisecond})
	store.svc = svc

	c, err := svc.Send(context.Background(), SendRequest{
		AccountID:  "acct-1",
		SessionID:  "sess-1",
		Recipients: []string{"+12025550100", "+12025550101", "+12025550102"},
		Text:       "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The loop must start pre-cancelled and settle without sending.
	deadline := time.Now().Add(2 * time.Second)
	for limiter.released() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if limiter.released() != 1 {
		t.Fatalf("limiter releases = %d, want 1", limiter.released())
	}
	if !disp.runCancelled() {
		t.Fatal("bulk loop was not cancelled")
	}

	got, ok, err := store.Get(context.Background(), "acct-1", c.ID)
	if err != nil || !ok {
		t.Fatalf("get campaign: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", got.Status, StatusCancelled)
	}
	if got.Results.Sent != 0 {
		t.Fatalf("sent = %d, want 0", got.Results.Sent)
	}
	if bal, _ := credits.Balance(context.Background(), "acct-1"); bal != 10 {
		t.Fatalf("balance = %d, want full refund to 10", bal)
	}
}
