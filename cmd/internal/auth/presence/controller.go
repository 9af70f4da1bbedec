package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vigil/cmd/account"
	"vigil/cmd/ids"
	"vigil/cmd/internal/auth/ledger"
	"vigil/cmd/internal/metrics"
	"vigil/cmd/internal/partner"
	"vigil/cmd/security/token"
)

// Credentials hashes and verifies account credentials.
// *password.Hasher satisfies it.
type Credentials interface {
	Hash(credential string) (string, error)
	Verify(credential, encodedHash string) (bool, error)
	// Equalize spends one verification worth of work so that rejections
	// before a real verify take about as long as a wrong credential.
	Equalize(credential string)
	// NeedsRehash reports whether encodedHash uses weaker parameters than
	// new hashes would.
	NeedsRehash(encodedHash string) bool
}

// RevocationIssuer derives the partner-facing revocation token of a session.
// *token.RevocationCodec satisfies it.
type RevocationIssuer interface {
	Issue(username, sessionID string, startedAt time.Time) (string, error)
}

// Dispatcher hands a logout notice to the partner without blocking.
// *partner.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(partner.Notice)
}

// Config tunes the controller.
type Config struct {
	// SessionTTL ends sessions older than this on ExpireStale. 0 disables expiry.
	SessionTTL time.Duration `toml:"session_ttl"`
	// OrphanGrace is how old an open ledger record with no matching presence
	// must be before it is treated as left behind by a crashed writer.
	OrphanGrace time.Duration `toml:"orphan_grace"`
	// ReapInterval is how often the Reaper runs ExpireStale.
	ReapInterval time.Duration `toml:"reap_interval"`
}

// DefaultConfig disables expiry and reaps once a minute.
func DefaultConfig() Config {
	return Config{
		SessionTTL:   0,
		OrphanGrace:  time.Minute,
		ReapInterval: time.Minute,
	}
}

// Controller owns every presence transition.
type Controller struct {
	log      *slog.Logger
	accounts account.Store
	ledger   ledger.Store
	creds    Credentials

	revocations RevocationIssuer
	sync        Dispatcher
	events      EventSink
	metrics     *metrics.Metrics

	cfg   Config
	locks *keyedLocker
	now   func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRevocations sets the revocation token issuer.
func WithRevocations(r RevocationIssuer) Option {
	return func(c *Controller) { c.revocations = r }
}

// WithDispatcher sets the partner dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) { c.sync = d }
}

// WithEventSink sets where transitions are published.
func WithEventSink(s EventSink) Option {
	return func(c *Controller) { c.events = s }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithClock sets the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a Controller. accounts, sessions and creds are required.
func New(accounts account.Store, sessions ledger.Store, creds Credentials, opts ...Option) (*Controller, error) {
	if accounts == nil || sessions == nil || creds == nil {
		return nil, fmt.Errorf("presence: accounts, ledger and credentials are required")
	}
	c := &Controller{
		log:      slog.New(slog.DiscardHandler),
		accounts: accounts,
		ledger:   sessions,
		creds:    creds,
		cfg:      DefaultConfig(),
		locks:    newKeyedLocker(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.cfg.SessionTTL < 0 {
		return nil, fmt.Errorf("presence: negative session ttl")
	}
	if c.cfg.OrphanGrace <= 0 {
		c.cfg.OrphanGrace = DefaultConfig().OrphanGrace
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Session is the result of a successful login or takeover.
type Session struct {
	Username  string
	SessionID string
	StartedAt time.Time
	Surface   ledger.Surface

	// RevocationToken is empty when no issuer is configured.
	RevocationToken string
}

// LoginInput carries one login attempt.
type LoginInput struct {
	Username         string
	Credential       string
	OriginAddress    string
	ClientDescriptor string
	Surface          ledger.Surface
}

// Login starts a session if the account exists, is enabled, has no active
// session and the credential verifies. Checks run in that order.
func (c *Controller) Login(ctx context.Context, in LoginInput) (Session, error) {
	sess, err := c.login(ctx, in)
	c.metrics.Login(loginResult(err))
	if err != nil {
		level := slog.LevelInfo
		if loginResult(err) == "error" {
			level = slog.LevelError
		}
		c.log.Log(ctx, level, "auth.login.fail",
			slog.String("username", account.NormalizeUsername(in.Username)),
			slog.String("reason", loginResult(err)),
			slog.String("remote", in.OriginAddress),
			slog.Any("err", err),
		)
		return Session{}, err
	}
	c.log.Info("auth.login.ok",
		slog.String("username", sess.Username),
		slog.String("session_id", sess.SessionID),
		slog.String("surface", string(sess.Surface)),
		slog.String("remote", in.OriginAddress),
	)
	c.publish(Event{Type: EventLogin, Username: sess.Username, SessionID: sess.SessionID, Surface: sess.Surface, LoggedIn: true, At: sess.StartedAt})
	return sess, nil
}

func (c *Controller) login(ctx context.Context, in LoginInput) (Session, error) {
	username := account.NormalizeUsername(in.Username)
	if username == "" || in.Credential == "" {
		return Session{}, ErrInvalidInput
	}

	unlock, err := c.locks.Lock(ctx, username)
	if err != nil {
		return Session{}, err
	}
	defer unlock()

	acct, err := c.accounts.GetByUsername(ctx, username)
	if err != nil {
		if account.IsNotFound(err) {
			c.creds.Equalize(in.Credential)
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if !acct.Enabled {
		return Session{}, ErrDisabled
	}
	if acct.Presence.LoggedIn() {
		return Session{}, ErrAlreadyActive
	}

	ok, err := c.creds.Verify(in.Credential, acct.CredentialHash)
	if err != nil {
		c.log.Warn("auth.credential.unverifiable", slog.String("username", username), slog.Any("err", err))
		return Session{}, ErrBadCredential
	}
	if !ok {
		return Session{}, ErrBadCredential
	}

	sess, err := c.start(ctx, acct, in.OriginAddress, in.ClientDescriptor, in.Surface)
	if err != nil {
		return Session{}, err
	}
	c.rehash(ctx, username, in.Credential, acct.CredentialHash)
	return sess, nil
}

// rehash upgrades a stored hash made with older parameters. Failures are
// logged; the login already succeeded.
func (c *Controller) rehash(ctx context.Context, username, credential, current string) {
	if !c.creds.NeedsRehash(current) {
		return
	}
	h, err := c.creds.Hash(credential)
	if err != nil {
		c.log.Warn("auth.credential.rehash_fail", slog.String("username", username), slog.Any("err", err))
		return
	}
	if _, err := c.accounts.SetCredential(ctx, username, h, c.now()); err != nil {
		c.log.Warn("auth.credential.rehash_fail", slog.String("username", username), slog.Any("err", err))
		return
	}
	c.log.Info("auth.credential.rehashed", slog.String("username", username))
}

// start opens a record and claims presence for acct. Caller holds the lock
// and has checked that acct is logged out.
func (c *Controller) start(ctx context.Context, acct account.Account, origin, client string, surface ledger.Surface) (Session, error) {
	now := c.now()
	sid, err := ids.NewULID(now)
	if err != nil {
		return Session{}, fmt.Errorf("mint session id: %w", err)
	}
	if surface == "" {
		surface = ledger.SurfaceAPI
	}
	open := ledger.OpenInput{
		ID:               sid,
		Username:         acct.Username,
		StartedAt:        now,
		OriginAddress:    origin,
		ClientDescriptor: client,
		Surface:          surface,
	}

	rec, err := c.ledger.Open(ctx, open)
	if errors.Is(err, ledger.ErrOpenExists) {
		if !c.clearOrphan(ctx, acct, now) {
			return Session{}, ErrAlreadyActive
		}
		rec, err = c.ledger.Open(ctx, open)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrOpenExists) {
			return Session{}, ErrAlreadyActive
		}
		return Session{}, fmt.Errorf("open session record: %w", err)
	}

	_, err = c.accounts.UpdatePresence(ctx, acct.Username, acct.Version, account.PresenceUpdate{
		SessionID:        sid,
		LastLoginAt:      &now,
		LastKnownAddress: origin,
		Now:              now,
	})
	if err != nil {
		c.abort(ctx, sid)
		if account.IsConflict(err) {
			return Session{}, ErrAlreadyActive
		}
		if account.IsNotFound(err) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("claim presence: %w", err)
	}

	sess := Session{
		Username:  acct.Username,
		SessionID: sid,
		StartedAt: rec.StartedAt,
		Surface:   rec.Surface,
	}
	if c.revocations != nil {
		tok, err := c.revocations.Issue(acct.Username, sid, rec.StartedAt)
		if err != nil {
			c.log.Error("auth.revocation.issue_fail", slog.String("username", acct.Username), slog.Any("err", err))
		} else {
			sess.RevocationToken = tok
		}
	}
	return sess, nil
}

// clearOrphan closes an open record that the account's presence does not
// point at, provided it is older than OrphanGrace. Reports whether it did.
func (c *Controller) clearOrphan(ctx context.Context, acct account.Account, now time.Time) bool {
	rec, err := c.ledger.FindOpen(ctx, acct.Username)
	if err != nil {
		return false
	}
	if rec.ID == acct.Presence.SessionID || now.Sub(rec.StartedAt) < c.cfg.OrphanGrace {
		return false
	}
	closed, err := c.ledger.Close(ctx, rec.ID, now, ledger.ReasonAborted)
	if err != nil {
		c.log.Error("presence.orphan.close_fail", slog.String("username", acct.Username), slog.String("session_id", rec.ID), slog.Any("err", err))
		return false
	}
	if closed {
		c.log.Warn("presence.orphan.closed", slog.String("username", acct.Username), slog.String("session_id", rec.ID))
		c.metrics.SessionEnded(string(ledger.ReasonAborted))
	}
	return true
}

// abort closes a record opened by a login that then lost the presence race.
func (c *Controller) abort(ctx context.Context, sid string) {
	if _, err := c.ledger.Close(context.WithoutCancel(ctx), sid, c.now(), ledger.ReasonAborted); err != nil {
		c.log.Error("presence.abort.close_fail", slog.String("session_id", sid), slog.Any("err", err))
		return
	}
	c.metrics.SessionEnded(string(ledger.ReasonAborted))
}

// ended describes a session that a transition just closed.
type ended struct {
	username  string
	sessionID string
	startedAt time.Time
	surface   ledger.Surface
	reason    ledger.EndReason
}

// end clears presence and closes the matching record. If expectSID is set the
// session is only ended while it is still the authoritative one. Caller holds
// the lock. Returns nil when there was nothing to end.
func (c *Controller) end(ctx context.Context, username, expectSID string, reason ledger.EndReason) (*ended, error) {
	const maxAttempts = 3
	now := c.now()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		acct, err := c.accounts.GetByUsername(ctx, username)
		if err != nil {
			if account.IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("load account: %w", err)
		}
		sid := acct.Presence.SessionID
		if sid == "" || (expectSID != "" && sid != expectSID) {
			return nil, nil
		}

		_, err = c.accounts.UpdatePresence(ctx, username, acct.Version, account.PresenceUpdate{Now: now})
		if account.IsVersionConflict(err) {
			continue
		}
		if err != nil {
			if account.IsNotFound(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("clear presence: %w", err)
		}

		out := &ended{username: username, sessionID: sid, reason: reason}
		if rec, err := c.ledger.Get(ctx, sid); err == nil {
			out.startedAt = rec.StartedAt
			out.surface = rec.Surface
		} else if t, ok := ids.Time(sid); ok {
			out.startedAt = t
		}
		if _, err := c.ledger.Close(ctx, sid, now, reason); err != nil {
			// Presence is already clear; the reaper closes the record later.
			c.log.Error("presence.record.close_fail", slog.String("username", username), slog.String("session_id", sid), slog.Any("err", err))
		}
		c.metrics.SessionEnded(string(reason))
		return out, nil
	}
	return nil, fmt.Errorf("clear presence: %w", account.ErrConflict)
}

// notify publishes the event and hands the partner a notice. Never called
// under the lock.
func (c *Controller) notify(e *ended, toPartner bool) {
	if e == nil {
		return
	}
	c.log.Info("auth.session.ended",
		slog.String("username", e.username),
		slog.String("session_id", e.sessionID),
		slog.String("reason", string(e.reason)),
	)
	c.publish(Event{
		Type:      eventForReason(e.reason),
		Username:  e.username,
		SessionID: e.sessionID,
		Surface:   e.surface,
		Reason:    e.reason,
		At:        c.now(),
	})
	if !toPartner || c.sync == nil {
		return
	}
	n := partner.Notice{Username: e.username, SessionID: e.sessionID, Reason: string(e.reason)}
	if c.revocations != nil {
		tok, err := c.revocations.Issue(e.username, e.sessionID, e.startedAt)
		if err != nil {
			c.log.Error("auth.revocation.issue_fail", slog.String("username", e.username), slog.Any("err", err))
			return
		}
		n.RevocationToken = tok
	}
	c.sync.Dispatch(n)
}

func (c *Controller) publish(e Event) {
	if c.events != nil {
		c.events.Publish(e)
	}
}

// Logout ends the account's session, if any. Unknown accounts and accounts
// already logged out succeed without effect.
func (c *Controller) Logout(ctx context.Context, username string) error {
	username = account.NormalizeUsername(username)
	if username == "" {
		return nil
	}
	e, err := c.locked(ctx, username, func() (*ended, error) {
		return c.end(ctx, username, "", ledger.ReasonLogout)
	})
	if err != nil {
		return err
	}
	c.notify(e, true)
	return nil
}

// EndSession ends sessionID only while it is still the account's
// authoritative session; a newer session is left alone. The partner is
// notified unless reason is ReasonAborted. Reports whether a session ended.
func (c *Controller) EndSession(ctx context.Context, username, sessionID string, reason ledger.EndReason) (bool, error) {
	username = account.NormalizeUsername(username)
	if username == "" || !ids.Valid(sessionID) {
		return false, ErrInvalidInput
	}
	e, err := c.locked(ctx, username, func() (*ended, error) {
		return c.end(ctx, username, sessionID, reason)
	})
	if err != nil {
		return false, err
	}
	c.notify(e, reason != ledger.ReasonAborted)
	return e != nil, nil
}

// LogoutFromPartner ends the session only while sessionID is still the
// authoritative one. The partner is not notified back. Reports whether a
// session ended.
func (c *Controller) LogoutFromPartner(ctx context.Context, username, sessionID string) (bool, error) {
	username = account.NormalizeUsername(username)
	if username == "" || !ids.Valid(sessionID) {
		return false, ErrInvalidInput
	}
	e, err := c.locked(ctx, username, func() (*ended, error) {
		return c.end(ctx, username, sessionID, ledger.ReasonPartnerLogout)
	})
	if err != nil {
		return false, err
	}
	c.notify(e, false)
	return e != nil, nil
}

func (c *Controller) locked(ctx context.Context, username string, fn func() (*ended, error)) (*ended, error) {
	unlock, err := c.locks.Lock(ctx, username)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return fn()
}

// ValidateSession reports whether presented is the account's authoritative
// session ID. It returns the account so callers can check flags without a
// second read. It takes no lock.
func (c *Controller) ValidateSession(ctx context.Context, username, presented string) (account.Account, error) {
	acct, err := c.accounts.GetByUsername(ctx, username)
	if err != nil {
		if account.IsNotFound(err) {
			return account.Account{}, ErrNoAccount
		}
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	if presented == "" || acct.Presence.SessionID != presented {
		return account.Account{}, ErrMismatch
	}
	return acct, nil
}

// TakeoverInput carries a privileged session replacement.
type TakeoverInput struct {
	Username         string
	Actor            string
	OriginAddress    string
	ClientDescriptor string
	Surface          ledger.Surface
}

// Takeover replaces any active session of the account with a new one without
// checking a credential. The partner is not notified.
func (c *Controller) Takeover(ctx context.Context, in TakeoverInput) (Session, error) {
	username := account.NormalizeUsername(in.Username)
	if username == "" {
		return Session{}, ErrInvalidInput
	}

	var (
		sess     Session
		replaced string
	)
	err := func() error {
		unlock, err := c.locks.Lock(ctx, username)
		if err != nil {
			return err
		}
		defer unlock()

		acct, err := c.accounts.GetByUsername(ctx, username)
		if err != nil {
			if account.IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("load account: %w", err)
		}
		if !acct.Enabled {
			return ErrDisabled
		}

		if acct.Presence.LoggedIn() {
			replaced = acct.Presence.SessionID
			if _, err := c.ledger.Close(ctx, replaced, c.now(), ledger.ReasonTakeover); err != nil {
				return fmt.Errorf("close replaced record: %w", err)
			}
			c.metrics.SessionEnded(string(ledger.ReasonTakeover))
		}

		sess, err = c.start(ctx, acct, in.OriginAddress, in.ClientDescriptor, in.Surface)
		if err != nil && replaced != "" {
			// The replaced record is closed; do not leave presence pointing at it.
			if _, cerr := c.end(ctx, username, replaced, ledger.ReasonTakeover); cerr != nil {
				c.log.Error("auth.takeover.rollback_fail", slog.String("username", username), slog.Any("err", cerr))
			}
		}
		return err
	}()
	if err != nil {
		c.log.Warn("auth.takeover.fail", slog.String("username", username), slog.String("actor", in.Actor), slog.Any("err", err))
		return Session{}, err
	}

	c.log.Info("auth.takeover.ok",
		slog.String("username", username),
		slog.String("actor", in.Actor),
		slog.String("replaced_session_id", replaced),
		slog.String("session_id", sess.SessionID),
	)
	c.publish(Event{Type: EventTakeover, Username: username, SessionID: sess.SessionID, Surface: sess.Surface, Reason: ledger.ReasonTakeover, LoggedIn: true, At: sess.StartedAt})
	return sess, nil
}

// SetEnabled enables or disables an account. Disabling a logged-in account
// ends its session and notifies the partner.
func (c *Controller) SetEnabled(ctx context.Context, username string, enabled bool) (account.Account, error) {
	username = account.NormalizeUsername(username)
	if username == "" {
		return account.Account{}, ErrInvalidInput
	}

	var acct account.Account
	e, err := c.locked(ctx, username, func() (*ended, error) {
		var err error
		acct, err = c.accounts.SetEnabled(ctx, username, enabled, c.now())
		if err != nil {
			if account.IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("set enabled: %w", err)
		}
		if enabled || !acct.Presence.LoggedIn() {
			return nil, nil
		}
		e, err := c.end(ctx, username, "", ledger.ReasonDisabled)
		if err != nil {
			return nil, err
		}
		if fresh, err := c.accounts.GetByUsername(ctx, username); err == nil {
			acct = fresh
		}
		return e, nil
	})
	if err != nil {
		return account.Account{}, err
	}

	c.log.Info("account.enabled.set", slog.String("username", username), slog.Bool("enabled", enabled))
	if e != nil {
		c.notify(e, true)
	} else {
		typ := EventEnabled
		if !enabled {
			typ = EventDisabled
		}
		c.publish(Event{Type: typ, Username: username, At: c.now()})
	}
	return acct, nil
}

// CreateAccountInput describes a new account with a plaintext credential.
type CreateAccountInput struct {
	Username   string
	Credential string
	Enabled    bool
	Admin      bool
}

// CreateAccount hashes the credential and stores a new account.
func (c *Controller) CreateAccount(ctx context.Context, in CreateAccountInput) (account.Account, error) {
	username := account.NormalizeUsername(in.Username)
	if !account.ValidUsername(username) {
		return account.Account{}, fmt.Errorf("%w: invalid username", ErrInvalidInput)
	}
	hash, err := c.creds.Hash(in.Credential)
	if err != nil {
		return account.Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	acct, err := c.accounts.Create(ctx, account.CreateInput{
		Username:       username,
		CredentialHash: hash,
		Enabled:        in.Enabled,
		Admin:          in.Admin,
		Now:            c.now(),
	})
	if err != nil {
		switch {
		case account.IsConflict(err):
			return account.Account{}, ErrExists
		case account.IsInvalidInput(err):
			return account.Account{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return account.Account{}, fmt.Errorf("create account: %w", err)
	}
	c.log.Info("account.created", slog.String("username", acct.Username), slog.Bool("admin", acct.Admin))
	c.publish(Event{Type: EventCreated, Username: acct.Username, At: acct.CreatedAt})
	return acct, nil
}

// DeleteAccount ends any active session and removes the account with its
// session history.
func (c *Controller) DeleteAccount(ctx context.Context, username string) error {
	username = account.NormalizeUsername(username)
	if username == "" {
		return ErrInvalidInput
	}
	e, err := c.locked(ctx, username, func() (*ended, error) {
		if _, err := c.accounts.GetByUsername(ctx, username); err != nil {
			if account.IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("load account: %w", err)
		}
		e, err := c.end(ctx, username, "", ledger.ReasonDeleted)
		if err != nil {
			return nil, err
		}
		if err := c.accounts.Delete(ctx, username); err != nil {
			if account.IsNotFound(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("delete account: %w", err)
		}
		if _, err := c.ledger.DeleteByAccount(ctx, username); err != nil {
			c.log.Error("account.history.delete_fail", slog.String("username", username), slog.Any("err", err))
		}
		return e, nil
	})
	if err != nil {
		return err
	}
	c.log.Info("account.deleted", slog.String("username", username))
	c.notify(e, true)
	if e == nil {
		c.publish(Event{Type: EventDeleted, Username: username, At: c.now()})
	}
	return nil
}

// Status returns the account. Lock-free.
func (c *Controller) Status(ctx context.Context, username string) (account.Account, error) {
	acct, err := c.accounts.GetByUsername(ctx, username)
	if err != nil {
		if account.IsNotFound(err) {
			return account.Account{}, ErrNotFound
		}
		return account.Account{}, err
	}
	return acct, nil
}

// List returns every account. Lock-free.
func (c *Controller) List(ctx context.Context) ([]account.Account, error) {
	return c.accounts.List(ctx)
}

// Count returns the number of accounts.
func (c *Controller) Count(ctx context.Context) (int, error) {
	return c.accounts.Count(ctx)
}

// History returns up to limit session records of the account, newest first.
func (c *Controller) History(ctx context.Context, username string, limit int) ([]ledger.Record, error) {
	username = account.NormalizeUsername(username)
	if _, err := c.accounts.GetByUsername(ctx, username); err != nil {
		if account.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c.ledger.ListByAccount(ctx, username, limit)
}

// ExpireStale ends sessions that started more than SessionTTL before now and
// closes open records that no account points at. It returns how many
// sessions expired.
func (c *Controller) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	window := c.cfg.OrphanGrace
	if ttl := c.cfg.SessionTTL; ttl > 0 && ttl < window {
		window = ttl
	}
	cutoff := now.Add(-window)
	recs, err := c.ledger.ListOpenStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list open records: %w", err)
	}

	expired := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		e, err := c.locked(ctx, rec.Username, func() (*ended, error) {
			return c.reapOne(ctx, rec, now)
		})
		if err != nil {
			c.log.Error("presence.reap.fail", slog.String("username", rec.Username), slog.String("session_id", rec.ID), slog.Any("err", err))
			continue
		}
		if e != nil {
			expired++
			c.notify(e, true)
		}
	}
	return expired, nil
}

func (c *Controller) reapOne(ctx context.Context, rec ledger.Record, now time.Time) (*ended, error) {
	acct, err := c.accounts.GetByUsername(ctx, rec.Username)
	switch {
	case account.IsNotFound(err):
		acct = account.Account{}
	case err != nil:
		return nil, err
	}

	if acct.Presence.SessionID != rec.ID {
		closed, err := c.ledger.Close(ctx, rec.ID, now, ledger.ReasonAborted)
		if err != nil {
			return nil, err
		}
		if closed {
			c.log.Warn("presence.orphan.closed", slog.String("username", rec.Username), slog.String("session_id", rec.ID))
			c.metrics.SessionEnded(string(ledger.ReasonAborted))
		}
		return nil, nil
	}

	ttl := c.cfg.SessionTTL
	if ttl <= 0 || now.Sub(rec.StartedAt) < ttl {
		return nil, nil
	}
	return c.end(ctx, rec.Username, rec.ID, ledger.ReasonExpired)
}

var _ RevocationIssuer = (*token.RevocationCodec)(nil)
var _ Dispatcher = (*partner.Dispatcher)(nil)
