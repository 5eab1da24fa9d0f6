package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Store abstracts persistence of the durable session projection.
type Store interface {
	Save(ctx context.Context, rec Session) error
	Get(ctx context.Context, sessionID string) (Session, bool, error)
	Delete(ctx context.Context, sessionID string) error
	ListByAccount(ctx context.Context, accountID string) ([]Session, error)
}

// CredentialStore abstracts durable transport credential persistence.
// Only an explicit Delete ever purges credentials; reconnect retries never do.
type CredentialStore interface {
	Load(ctx context.Context, sessionID string) ([]byte, bool, error)
	Save(ctx context.Context, sessionID string, credentials []byte) error
	Delete(ctx context.Context, sessionID string) error
}

var (
	ErrSessionNotFound     = errors.New("session: not found")
	ErrSessionNotConnected = errors.New("session: not connected")
	ErrPairingTimeout      = errors.New("session: pairing timeout")
	ErrInvalidArgument     = errors.New("session: invalid argument")
)

// Options tunes pairing waits and reconnect backoff.
// Zero values get defaults matching production behavior.
type Options struct {
	QRWaitTimeout      time.Duration
	QRPollInterval     time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (o Options) withDefaults() Options {
	out := o
	if out.QRWaitTimeout <= 0 {
		out.QRWaitTimeout = 20 * time.Second
	}
	if out.QRPollInterval <= 0 {
		out.QRPollInterval = 500 * time.Millisecond
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = 5 * time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 2 * time.Minute
	}
	return out
}

// Supervisor owns the session registry: one live handle per session id,
// fully isolated per-session state, no globals.
//
// Contract:
// - Only Supervisor methods and its event loops touch live handles.
// - Transient disconnects schedule a cancellable reconnect timer with
//   exponential backoff; terminal disconnects (logout/replaced) do not.
// - Retries never delete durable credentials; only Delete purges them and
//   cancels the pending timer, so a just-deleted session cannot resurrect.
type Supervisor struct {
	transport Transport
	store     Store
	creds     CredentialStore
	log       *slog.Logger
	opts      Options
	clock     func() time.Time

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is runtime-only connection state. Guarded by Supervisor.mu.
type liveSession struct {
	rec Session

	conn           Conn
	pendingQR      string
	retries        int
	reconnectTimer *time.Timer
	deleted        bool
}

func NewSupervisor(transport Transport, store Store, creds CredentialStore, log *slog.Logger, opts Options) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		transport: transport,
		store:     store,
		creds:     creds,
		log:       log,
		opts:      opts.withDefaults(),
		clock:     time.Now,
		live:      map[string]*liveSession{},
	}
}

// Create starts (or restarts) a session. If a live handle is already
// connected it is reused as-is. A stale handle is torn down first, without
// touching durable credentials, so a re-pair is only needed when the
// transport says so.
func (s *Supervisor) Create(ctx context.Context, accountID, sessionID string) (Session, error) {
	if accountID == "" || sessionID == "" {
		return Session{}, ErrInvalidArgument
	}

	s.mu.Lock()
	if ls, ok := s.live[sessionID]; ok {
		if ls.rec.Status == StatusConnected && ls.conn != nil {
			rec := ls.rec
			s.mu.Unlock()
			return rec, nil
		}
		s.teardownLocked(ls)
	}

	now := s.clock().UTC()
	rec := Session{
		SessionID: sessionID,
		AccountID: accountID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if prev, ok, err := s.store.Get(ctx, sessionID); err != nil {
		s.log.Warn("session record read failed, starting fresh", "session_id", sessionID, "err", err)
	} else if ok {
		rec.CreatedAt = prev.CreatedAt
		rec.LastConnectedAt = prev.LastConnectedAt
	}
	ls := &liveSession{rec: rec}
	s.live[sessionID] = ls
	s.mu.Unlock()

	if err := s.store.Save(ctx, rec); err != nil {
		return Session{}, err
	}
	if err := s.dial(ctx, ls); err != nil {
		s.mu.Lock()
		if ls.deleted {
			// Superseded while dialing; the replacement owns the record now.
			s.mu.Unlock()
			return Session{}, err
		}
		ls.rec.Status = StatusDisconnected
		ls.rec.LastError = err.Error()
		ls.rec.UpdatedAt = s.clock().UTC()
		rec = ls.rec
		s.mu.Unlock()
		_ = s.store.Save(ctx, rec)
		return Session{}, err
	}

	s.mu.Lock()
	rec = ls.rec
	s.mu.Unlock()
	return rec, nil
}

// dial opens a transport connection using previously persisted credentials
// when present (silent reconnection without re-pairing) and starts the event
// loop. Callers must not hold s.mu.
func (s *Supervisor) dial(ctx context.Context, ls *liveSession) error {
	sessionID := ls.rec.SessionID

	credentials, _, err := s.creds.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	conn, err := s.transport.Dial(ctx, sessionID, credentials)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if ls.deleted {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionNotFound
	}
	ls.conn = conn
	s.mu.Unlock()

	go s.consume(ls, conn)
	return nil
}

// consume drives one connection's event stream until the transport closes it.
func (s *Supervisor) consume(ls *liveSession, conn Conn) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case EventConnected:
			s.onConnected(ls, conn, ev.Phone)
		case EventQR:
			s.onQR(ls, conn, ev.QR)
		case EventCredentials:
			s.onCredentials(ls, conn, ev.Credentials)
		case EventDisconnected:
			s.onDisconnected(ls, conn, ev.Reason)
		}
	}
	// Channel closed without a disconnect event: treat as a transport drop.
	s.onDisconnected(ls, conn, ReasonStreamError)
}

func (s *Supervisor) onConnected(ls *liveSession, conn Conn, phone string) {
	s.mu.Lock()
	if ls.conn != conn || ls.deleted {
		s.mu.Unlock()
		return
	}
	now := s.clock().UTC()
	ls.rec.Status = StatusConnected
	ls.rec.Phone = phone
	ls.rec.LastError = ""
	ls.rec.LastConnectedAt = &now
	ls.rec.UpdatedAt = now
	ls.pendingQR = ""
	ls.retries = 0
	rec := ls.rec
	s.mu.Unlock()

	s.persist(rec)
	s.log.Info("session connected", "session_id", rec.SessionID, "phone", phone)
}

func (s *Supervisor) onQR(ls *liveSession, conn Conn, qr string) {
	s.mu.Lock()
	if ls.conn != conn || ls.deleted {
		s.mu.Unlock()
		return
	}
	ls.pendingQR = qr
	ls.rec.Status = StatusQRPending
	ls.rec.UpdatedAt = s.clock().UTC()
	rec := ls.rec
	s.mu.Unlock()

	s.persist(rec)
}

func (s *Supervisor) onCredentials(ls *liveSession, conn Conn, credentials []byte) {
	s.mu.Lock()
	if ls.conn != conn || ls.deleted {
		s.mu.Unlock()
		return
	}
	sessionID := ls.rec.SessionID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.creds.Save(ctx, sessionID, credentials); err != nil {
		// Losing rotated credentials forces a future re-pair; surface loudly.
		s.log.Error("credential persist failed", "session_id", sessionID, "err", err)
	}
}

func (s *Supervisor) onDisconnected(ls *liveSession, conn Conn, reason string) {
	s.mu.Lock()
	if ls.conn != conn || ls.deleted {
		// Stale event loop for a replaced/torn-down handle.
		s.mu.Unlock()
		return
	}
	ls.conn = nil
	_ = conn.Close()

	ls.rec.Status = StatusDisconnected
	ls.rec.LastError = reason
	ls.rec.UpdatedAt = s.clock().UTC()
	rec := ls.rec

	terminal := classifyDisconnect(reason)
	if !terminal {
		delay := s.backoff(ls.retries)
		ls.retries++
		attempt := ls.retries
		sessionID := ls.rec.SessionID
		ls.reconnectTimer = time.AfterFunc(delay, func() {
			s.attemptReconnect(sessionID)
		})
		s.mu.Unlock()

		s.persist(rec)
		s.log.Warn("session dropped, reconnect scheduled",
			"session_id", rec.SessionID, "reason", reason, "delay", delay, "attempt", attempt)
		return
	}
	s.mu.Unlock()

	s.persist(rec)
	s.log.Warn("session ended by transport, no auto-retry", "session_id", rec.SessionID, "reason", reason)
}

func (s *Supervisor) backoff(retries int) time.Duration {
	d := s.opts.ReconnectBaseDelay
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= s.opts.ReconnectMaxDelay {
			return s.opts.ReconnectMaxDelay
		}
	}
	return d
}

func (s *Supervisor) attemptReconnect(sessionID string) {
	s.mu.Lock()
	ls, ok := s.live[sessionID]
	if !ok || ls.deleted || ls.conn != nil {
		s.mu.Unlock()
		return
	}
	ls.reconnectTimer = nil
	ls.rec.Status = StatusReconnecting
	ls.rec.UpdatedAt = s.clock().UTC()
	rec := ls.rec
	attempt := ls.retries
	s.mu.Unlock()

	s.persist(rec)
	s.log.Info("session reconnecting", "session_id", sessionID, "attempt", attempt)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.dial(ctx, ls); err != nil {
		s.log.Warn("reconnect dial failed", "session_id", sessionID, "err", err)
		// Same path as a transport drop: keep retrying with backoff,
		// never touching credentials.
		s.mu.Lock()
		if ls.deleted {
			s.mu.Unlock()
			return
		}
		ls.rec.Status = StatusDisconnected
		ls.rec.LastError = err.Error()
		ls.rec.UpdatedAt = s.clock().UTC()
		rec = ls.rec
		delay := s.backoff(ls.retries)
		ls.retries++
		ls.reconnectTimer = time.AfterFunc(delay, func() {
			s.attemptReconnect(sessionID)
		})
		s.mu.Unlock()
		s.persist(rec)
	}
}

// WaitForPairing polls until a pairing code is available or the session
// reaches connected, bounded by QRWaitTimeout.
func (s *Supervisor) WaitForPairing(ctx context.Context, sessionID string) (PairingResult, error) {
	if sessionID == "" {
		return PairingResult{}, ErrInvalidArgument
	}

	deadline := time.NewTimer(s.opts.QRWaitTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.opts.QRPollInterval)
	defer tick.Stop()

	for {
		s.mu.Lock()
		ls, ok := s.live[sessionID]
		if !ok {
			s.mu.Unlock()
			return PairingResult{}, ErrSessionNotFound
		}
		if ls.rec.Status == StatusConnected {
			res := PairingResult{Connected: true, Phone: ls.rec.Phone}
			s.mu.Unlock()
			return res, nil
		}
		if ls.pendingQR != "" {
			res := PairingResult{QR: ls.pendingQR}
			s.mu.Unlock()
			return res, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return PairingResult{}, ctx.Err()
		case <-deadline.C:
			return PairingResult{}, ErrPairingTimeout
		case <-tick.C:
		}
	}
}

// Status returns the durable projection.
func (s *Supervisor) Status(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	rec, ok, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return rec, nil
}

// Reconnect is the explicit user action: tear down whatever is live and dial
// fresh with persisted credentials.
func (s *Supervisor) Reconnect(ctx context.Context, sessionID string) (Session, error) {
	rec, err := s.Status(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	return s.Create(ctx, rec.AccountID, sessionID)
}

func (s *Supervisor) List(ctx context.Context, accountID string) ([]Session, error) {
	if accountID == "" {
		return nil, ErrInvalidArgument
	}
	return s.store.ListByAccount(ctx, accountID)
}

// Delete cancels any pending reconnect timer, closes the live handle, purges
// durable credentials and removes both the registry entry and the record.
func (s *Supervisor) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalidArgument
	}

	s.mu.Lock()
	ls, hadLive := s.live[sessionID]
	if hadLive {
		s.teardownLocked(ls)
	}
	s.mu.Unlock()

	_, hadRecord, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !hadLive && !hadRecord {
		return ErrSessionNotFound
	}

	if err := s.creds.Delete(ctx, sessionID); err != nil {
		return err
	}
	return s.store.Delete(ctx, sessionID)
}

// teardownLocked stops timers and the live handle, and marks the entry dead
// so an in-flight dial for it closes its late connection instead of adopting
// it. Durable credentials are untouched. Caller holds s.mu.
func (s *Supervisor) teardownLocked(ls *liveSession) {
	ls.deleted = true
	if ls.reconnectTimer != nil {
		ls.reconnectTimer.Stop()
		ls.reconnectTimer = nil
	}
	if ls.conn != nil {
		_ = ls.conn.Close()
		ls.conn = nil
	}
	ls.pendingQR = ""
	delete(s.live, ls.rec.SessionID)
}

// ConnectedConn hands the orchestrator a live connection for dispatch.
func (s *Supervisor) ConnectedConn(ctx context.Context, sessionID string) (Conn, error) {
	if sessionID == "" {
		return nil, ErrInvalidArgument
	}

	s.mu.Lock()
	ls, ok := s.live[sessionID]
	if ok {
		if ls.rec.Status == StatusConnected && ls.conn != nil {
			conn := ls.conn
			s.mu.Unlock()
			return conn, nil
		}
		s.mu.Unlock()
		return nil, ErrSessionNotConnected
	}
	s.mu.Unlock()

	// No live handle; distinguish unknown session from a known-but-offline
	// one (e.g. after a process restart).
	_, found, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	return nil, ErrSessionNotConnected
}

// Close tears down all live handles and timers. Used on process shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ls := range s.live {
		s.teardownLocked(ls)
	}
}

func (s *Supervisor) persist(rec Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, rec); err != nil {
		// A stale projection is a reconciliation concern, not a reason to
		// drop the live connection.
		s.log.Error("session persist failed", "session_id", rec.SessionID, "err", err)
	}
}
