package presence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/cmd/account"
	"vigil/cmd/internal/auth/ledger"
	"vigil/cmd/internal/partner"
	"vigil/cmd/security/token"
)

// staleSID is a well-formed session ID that no test session ever gets.
const staleSID = "01J0000000000000000000000A"

// plainCreds stores credentials as "plain:<credential>" so tests stay fast.
// "legacy:<credential>" hashes still verify but ask for a rehash.
type plainCreds struct {
	equalized atomic.Int32
}

func (p *plainCreds) Hash(credential string) (string, error) {
	if len(credential) < 3 {
		return "", errors.New("too short")
	}
	return "plain:" + credential, nil
}

func (p *plainCreds) Verify(credential, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "plain:"):
		return encodedHash == "plain:"+credential, nil
	case strings.HasPrefix(encodedHash, "legacy:"):
		return encodedHash == "legacy:"+credential, nil
	}
	return false, errors.New("bad hash")
}

func (p *plainCreds) NeedsRehash(encodedHash string) bool {
	return !strings.HasPrefix(encodedHash, "plain:")
}

func (p *plainCreds) Equalize(string) { p.equalized.Add(1) }

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingDispatcher struct {
	mu      sync.Mutex
	notices []partner.Notice
}

func (r *recordingDispatcher) Dispatch(n partner.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingDispatcher) all() []partner.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]partner.Notice(nil), r.notices...)
}

type fixture struct {
	c        *Controller
	accounts *account.MemoryStore
	ledger   *ledger.MemoryStore
	creds    *plainCreds
	sink     *recordingSink
	sync     *recordingDispatcher
	revoke   *token.RevocationCodec
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	tcfg := token.DefaultConfig()
	tcfg.RevocationSecret = strings.Repeat("r", token.MinSecretBytes)
	revoke, err := token.NewRevocationCodec(tcfg)
	require.NoError(t, err)

	f := &fixture{
		accounts: account.NewMemoryStore(),
		ledger:   ledger.NewMemoryStore(),
		creds:    &plainCreds{},
		sink:     &recordingSink{},
		sync:     &recordingDispatcher{},
		revoke:   revoke,
		clock:    &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
	}
	f.c, err = New(f.accounts, f.ledger, f.creds,
		WithConfig(cfg),
		WithRevocations(revoke),
		WithDispatcher(f.sync),
		WithEventSink(f.sink),
		WithClock(f.clock.Now),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) mustCreate(t *testing.T, username, credential string, enabled bool) account.Account {
	t.Helper()
	a, err := f.c.CreateAccount(context.Background(), CreateAccountInput{Username: username, Credential: credential, Enabled: enabled})
	require.NoError(t, err)
	return a
}

func (f *fixture) openRecords(t *testing.T, username string) []ledger.Record {
	t.Helper()
	recs, err := f.ledger.ListByAccount(context.Background(), username, 0)
	require.NoError(t, err)
	var open []ledger.Record
	for _, r := range recs {
		if r.IsOpen() {
			open = append(open, r)
		}
	}
	return open
}

func TestLogin_AliceScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "alice", "secret", true)

	first, err := f.c.Login(ctx, LoginInput{Username: "alice", Credential: "secret", OriginAddress: "10.0.0.7", Surface: ledger.SurfacePanel})
	require.NoError(t, err)
	assert.Equal(t, "alice", first.Username)
	assert.NotEmpty(t, first.SessionID)
	assert.NotEmpty(t, first.RevocationToken)

	acct, err := f.c.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, acct.Presence.SessionID)
	require.NotNil(t, acct.LastLoginAt)
	assert.Equal(t, "10.0.0.7", acct.LastKnownAddress)

	_, err = f.c.Login(ctx, LoginInput{Username: "alice", Credential: "secret", Surface: ledger.SurfaceApp})
	assert.ErrorIs(t, err, ErrAlreadyActive)

	require.NoError(t, f.c.Logout(ctx, "alice"))

	second, err := f.c.Login(ctx, LoginInput{Username: "alice", Credential: "secret", Surface: ledger.SurfaceApp})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	_, err = f.c.ValidateSession(ctx, "alice", first.SessionID)
	assert.ErrorIs(t, err, ErrMismatch)
	_, err = f.c.ValidateSession(ctx, "alice", second.SessionID)
	assert.NoError(t, err)
}

func TestLogin_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.c.now = func() time.Time { return time.Now().UTC() }
	f.mustCreate(t, "racer", "pw-racer", true)

	const n = 32
	var (
		wins   atomic.Int32
		active atomic.Int32
		wg     sync.WaitGroup
		start  = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.c.Login(context.Background(), LoginInput{Username: "racer", Credential: "pw-racer"})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyActive):
				active.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), active.Load())
	assert.Len(t, f.openRecords(t, "racer"), 1)
	assert.Equal(t, 0, f.c.locks.size())
}

func TestLogin_CheckOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "bob", "bob-pass", true)
	f.mustCreate(t, "carol", "carol-pass", false)

	tests := []struct {
		name string
		in   LoginInput
		want error
	}{
		{"empty username", LoginInput{Credential: "x"}, ErrInvalidInput},
		{"empty credential", LoginInput{Username: "bob"}, ErrInvalidInput},
		{"unknown account", LoginInput{Username: "nobody", Credential: "x"}, ErrNotFound},
		{"disabled with right credential", LoginInput{Username: "carol", Credential: "carol-pass"}, ErrDisabled},
		{"disabled with wrong credential", LoginInput{Username: "carol", Credential: "nope"}, ErrDisabled},
		{"wrong credential", LoginInput{Username: "bob", Credential: "nope"}, ErrBadCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.c.Login(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int32(1), f.creds.equalized.Load())

	before, err := f.c.Status(ctx, "bob")
	require.NoError(t, err)
	_, err = f.c.Login(ctx, LoginInput{Username: "bob", Credential: "nope"})
	require.ErrorIs(t, err, ErrBadCredential)
	after, err := f.c.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "failed login must not write")
	assert.Empty(t, f.openRecords(t, "bob"))

	_, err = f.c.Login(ctx, LoginInput{Username: " BOB ", Credential: "bob-pass"})
	require.NoError(t, err)
	_, err = f.c.Login(ctx, LoginInput{Username: "bob", Credential: "wrong"})
	assert.ErrorIs(t, err, ErrAlreadyActive, "active session is reported before the credential is checked")
}

func TestLogin_LogoutLoginCycle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "dave", "dave-pass", true)

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		s, err := f.c.Login(ctx, LoginInput{Username: "dave", Credential: "dave-pass"})
		require.NoError(t, err, "iteration %d", i)
		assert.False(t, seen[s.SessionID])
		seen[s.SessionID] = true
		require.NoError(t, f.c.Logout(ctx, "dave"))
		f.clock.Advance(time.Second)
	}

	hist, err := f.c.History(ctx, "dave", 0)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	for _, r := range hist {
		assert.False(t, r.IsOpen())
		assert.Equal(t, ledger.ReasonLogout, r.EndReason)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "erin", "erin-pass", true)

	sess, err := f.c.Login(ctx, LoginInput{Username: "erin", Credential: "erin-pass"})
	require.NoError(t, err)

	require.NoError(t, f.c.Logout(ctx, "erin"))
	require.NoError(t, f.c.Logout(ctx, "erin"))
	require.NoError(t, f.c.Logout(ctx, "ghost"))
	require.NoError(t, f.c.Logout(ctx, ""))

	notices := f.sync.all()
	require.Len(t, notices, 1)
	assert.Equal(t, "erin", notices[0].Username)
	assert.Equal(t, sess.SessionID, notices[0].SessionID)
	assert.Equal(t, string(ledger.ReasonLogout), notices[0].Reason)
	assert.Equal(t, sess.RevocationToken, notices[0].RevocationToken, "revocation token is re-derived at logout")

	claims, err := f.revoke.Verify(notices[0].RevocationToken)
	require.NoError(t, err)
	assert.Equal(t, "erin", claims.Subject)
	assert.Equal(t, sess.SessionID, claims.SessionID)

	acct, err := f.c.Status(ctx, "erin")
	require.NoError(t, err)
	assert.False(t, acct.Presence.LoggedIn())
	assert.Equal(t, []EventType{EventCreated, EventLogin, EventLogout}, f.sink.types())
}

func TestValidateSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "fay", "fay-pass", true)

	_, err := f.c.ValidateSession(ctx, "nobody", "S")
	assert.ErrorIs(t, err, ErrNoAccount)

	_, err = f.c.ValidateSession(ctx, "fay", "")
	assert.ErrorIs(t, err, ErrMismatch, "logged out account has no authoritative session")

	sess, err := f.c.Login(ctx, LoginInput{Username: "fay", Credential: "fay-pass"})
	require.NoError(t, err)

	acct, err := f.c.ValidateSession(ctx, "fay", sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "fay", acct.Username)

	_, err = f.c.ValidateSession(ctx, "fay", "")
	assert.ErrorIs(t, err, ErrMismatch)

	require.NoError(t, f.c.DeleteAccount(ctx, "fay"))
	_, err = f.c.ValidateSession(ctx, "fay", sess.SessionID)
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestTakeover(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "gus", "gus-pass", true)

	old, err := f.c.Login(ctx, LoginInput{Username: "gus", Credential: "gus-pass", Surface: ledger.SurfaceApp})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	next, err := f.c.Takeover(ctx, TakeoverInput{Username: "gus", Actor: "root", Surface: ledger.SurfacePanel})
	require.NoError(t, err)
	assert.NotEqual(t, old.SessionID, next.SessionID)

	_, err = f.c.ValidateSession(ctx, "gus", old.SessionID)
	assert.ErrorIs(t, err, ErrMismatch)
	_, err = f.c.ValidateSession(ctx, "gus", next.SessionID)
	assert.NoError(t, err)

	oldRec, err := f.ledger.Get(ctx, old.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonTakeover, oldRec.EndReason)
	assert.Len(t, f.openRecords(t, "gus"), 1)
	assert.Empty(t, f.sync.all(), "takeover does not notify the partner")

	require.NoError(t, f.c.Logout(ctx, "gus"))
	fresh, err := f.c.Takeover(ctx, TakeoverInput{Username: "gus", Actor: "root"})
	require.NoError(t, err, "takeover works from logged out")
	assert.Equal(t, ledger.SurfaceAPI, fresh.Surface)

	_, err = f.c.Takeover(ctx, TakeoverInput{Username: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.c.SetEnabled(ctx, "gus", false)
	require.NoError(t, err)
	_, err = f.c.Takeover(ctx, TakeoverInput{Username: "gus"})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSetEnabled_DisableEndsSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "hal", "hal-pass", true)

	sess, err := f.c.Login(ctx, LoginInput{Username: "hal", Credential: "hal-pass"})
	require.NoError(t, err)

	acct, err := f.c.SetEnabled(ctx, "hal", false)
	require.NoError(t, err)
	assert.False(t, acct.Enabled)
	assert.False(t, acct.Presence.LoggedIn())

	rec, err := f.ledger.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonDisabled, rec.EndReason)

	notices := f.sync.all()
	require.Len(t, notices, 1)
	assert.Equal(t, string(ledger.ReasonDisabled), notices[0].Reason)

	_, err = f.c.Login(ctx, LoginInput{Username: "hal", Credential: "hal-pass"})
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = f.c.SetEnabled(ctx, "hal", true)
	require.NoError(t, err)
	_, err = f.c.Login(ctx, LoginInput{Username: "hal", Credential: "hal-pass"})
	assert.NoError(t, err)

	_, err = f.c.SetEnabled(ctx, "nobody", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogoutFromPartner(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "ivy", "ivy-pass", true)

	sess, err := f.c.Login(ctx, LoginInput{Username: "ivy", Credential: "ivy-pass"})
	require.NoError(t, err)

	ended, err := f.c.LogoutFromPartner(ctx, "ivy", staleSID)
	require.NoError(t, err)
	assert.False(t, ended, "stale session ids are ignored")

	ended, err = f.c.LogoutFromPartner(ctx, "ivy", sess.SessionID)
	require.NoError(t, err)
	assert.True(t, ended)

	ended, err = f.c.LogoutFromPartner(ctx, "ivy", sess.SessionID)
	require.NoError(t, err)
	assert.False(t, ended)

	rec, err := f.ledger.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonPartnerLogout, rec.EndReason)
	assert.Empty(t, f.sync.all(), "partner logouts are not echoed back")

	_, err = f.c.LogoutFromPartner(ctx, "ivy", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.c.LogoutFromPartner(ctx, "ivy", "not-a-session")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEndSession_OnlyEndsNamedSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "ivy", "ivy-pass", true)

	first, err := f.c.Login(ctx, LoginInput{Username: "ivy", Credential: "ivy-pass"})
	require.NoError(t, err)
	second, err := f.c.Takeover(ctx, TakeoverInput{Username: "ivy", Actor: "root"})
	require.NoError(t, err)

	// The holder of the replaced session logs out late.
	ended, err := f.c.EndSession(ctx, "ivy", first.SessionID, ledger.ReasonLogout)
	require.NoError(t, err)
	assert.False(t, ended)

	acct, err := f.c.Status(ctx, "ivy")
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, acct.Presence.SessionID)
	assert.Empty(t, f.sync.all())

	ended, err = f.c.EndSession(ctx, "IVY", second.SessionID, ledger.ReasonLogout)
	require.NoError(t, err)
	assert.True(t, ended)

	rec, err := f.ledger.Get(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonLogout, rec.EndReason)
	notices := f.sync.all()
	require.Len(t, notices, 1)
	assert.Equal(t, second.SessionID, notices[0].SessionID)

	_, err = f.c.EndSession(ctx, "ivy", "", ledger.ReasonLogout)
	assert.ErrorIs(t, err, ErrInvalidInput)
	ended, err = f.c.EndSession(ctx, "nobody", staleSID, ledger.ReasonLogout)
	require.NoError(t, err)
	assert.False(t, ended)
}

func TestEndSession_AbortedSkipsPartner(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "ivy", "ivy-pass", true)

	sess, err := f.c.Login(ctx, LoginInput{Username: "ivy", Credential: "ivy-pass"})
	require.NoError(t, err)

	ended, err := f.c.EndSession(ctx, "ivy", sess.SessionID, ledger.ReasonAborted)
	require.NoError(t, err)
	assert.True(t, ended)
	assert.Empty(t, f.sync.all())

	rec, err := f.ledger.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAborted, rec.EndReason)
}

func TestLogin_RehashesOutdatedCredential(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	_, err := f.accounts.Create(ctx, account.CreateInput{Username: "jay", CredentialHash: "legacy:jay-pass", Enabled: true})
	require.NoError(t, err)

	_, err = f.c.Login(ctx, LoginInput{Username: "jay", Credential: "jay-pass"})
	require.NoError(t, err)

	acct, err := f.accounts.GetByUsername(ctx, "jay")
	require.NoError(t, err)
	assert.Equal(t, "plain:jay-pass", acct.CredentialHash)
	assert.True(t, acct.Presence.LoggedIn())

	require.NoError(t, f.c.Logout(ctx, "jay"))
	_, err = f.c.Login(ctx, LoginInput{Username: "jay", Credential: "jay-pass"})
	require.NoError(t, err)
}

func TestCreateAndDeleteAccount(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.c.CreateAccount(ctx, CreateAccountInput{Username: "bad name!", Credential: "pw-ok", Enabled: true})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.c.CreateAccount(ctx, CreateAccountInput{Username: "jo", Credential: "x", Enabled: true})
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.mustCreate(t, "jo", "jo-pass", true)
	_, err = f.c.CreateAccount(ctx, CreateAccountInput{Username: "JO", Credential: "jo-pass", Enabled: true})
	assert.ErrorIs(t, err, ErrExists)

	sess, err := f.c.Login(ctx, LoginInput{Username: "jo", Credential: "jo-pass"})
	require.NoError(t, err)

	require.NoError(t, f.c.DeleteAccount(ctx, "jo"))
	_, err = f.c.Status(ctx, "jo")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.c.History(ctx, "jo", 10)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ledger.Get(ctx, sess.SessionID)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "history is removed with the account")

	notices := f.sync.all()
	require.Len(t, notices, 1)
	assert.Equal(t, string(ledger.ReasonDeleted), notices[0].Reason)

	assert.ErrorIs(t, f.c.DeleteAccount(ctx, "jo"), ErrNotFound)
}

func TestExpireStale(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionTTL = time.Hour
	f := newFixture(t, cfg)
	ctx := context.Background()
	f.mustCreate(t, "kim", "kim-pass", true)

	sess, err := f.c.Login(ctx, LoginInput{Username: "kim", Credential: "kim-pass"})
	require.NoError(t, err)

	n, err := f.c.ExpireStale(ctx, sess.StartedAt.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.c.ExpireStale(ctx, sess.StartedAt.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.ledger.Get(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonExpired, rec.EndReason)

	notices := f.sync.all()
	require.Len(t, notices, 1)
	assert.Equal(t, string(ledger.ReasonExpired), notices[0].Reason)
	assert.Equal(t, sess.RevocationToken, notices[0].RevocationToken)

	_, err = f.c.ValidateSession(ctx, "kim", sess.SessionID)
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestExpireStale_DisabledTTLKeepsSessions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "lea", "lea-pass", true)

	sess, err := f.c.Login(ctx, LoginInput{Username: "lea", Credential: "lea-pass"})
	require.NoError(t, err)

	n, err := f.c.ExpireStale(ctx, sess.StartedAt.Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = f.c.ValidateSession(ctx, "lea", sess.SessionID)
	assert.NoError(t, err)
}

func TestOrphanRecords(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "max", "max-pass", true)
	f.mustCreate(t, "ned", "ned-pass", true)

	// Records a crashed writer opened without claiming presence.
	_, err := f.ledger.Open(ctx, ledger.OpenInput{ID: "01ORPHANMAX", Username: "max", StartedAt: f.clock.Now().Add(-5 * time.Minute)})
	require.NoError(t, err)
	_, err = f.ledger.Open(ctx, ledger.OpenInput{ID: "01ORPHANNED", Username: "ned", StartedAt: f.clock.Now().Add(-5 * time.Minute)})
	require.NoError(t, err)
	_, err = f.ledger.Open(ctx, ledger.OpenInput{ID: "01FRESH", Username: "ned", StartedAt: f.clock.Now()})
	require.ErrorIs(t, err, ledger.ErrOpenExists)

	_, err = f.c.Login(ctx, LoginInput{Username: "max", Credential: "max-pass"})
	require.NoError(t, err, "login recovers from an old orphan")
	rec, err := f.ledger.Get(ctx, "01ORPHANMAX")
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAborted, rec.EndReason)

	n, err := f.c.ExpireStale(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n, "orphans are closed, not counted as expired")
	rec, err = f.ledger.Get(ctx, "01ORPHANNED")
	require.NoError(t, err)
	assert.Equal(t, ledger.ReasonAborted, rec.EndReason)
	assert.Len(t, f.openRecords(t, "max"), 1)
}

func TestLogin_FreshOpenRecordBlocks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	f.mustCreate(t, "oz", "oz-pass", true)

	// Another process is mid-login: its record is too young to be an orphan.
	_, err := f.ledger.Open(ctx, ledger.OpenInput{ID: "01INFLIGHT", Username: "oz", StartedAt: f.clock.Now()})
	require.NoError(t, err)

	_, err = f.c.Login(ctx, LoginInput{Username: "oz", Credential: "oz-pass"})
	assert.ErrorIs(t, err, ErrAlreadyActive)
	rec, err := f.ledger.Get(ctx, "01INFLIGHT")
	require.NoError(t, err)
	assert.True(t, rec.IsOpen())
}

// blockingNotifier holds every call until release is closed or the call's
// context ends.
type blockingNotifier struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingNotifier) NotifyLogout(ctx context.Context, _ partner.Notice) error {
	b.calls.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestLogout_PartnerUnreachableDoesNotBlock(t *testing.T) {
	accounts := account.NewMemoryStore()
	sessions := ledger.NewMemoryStore()
	notifier := &blockingNotifier{release: make(chan struct{})}
	pcfg := partner.DefaultConfig()
	pcfg.MaxInFlight = 2
	disp := partner.NewDispatcher(nil, notifier, pcfg, nil)

	c, err := New(accounts, sessions, &plainCreds{}, WithDispatcher(disp))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.CreateAccount(ctx, CreateAccountInput{Username: "pat", Credential: "pat-pass", Enabled: true})
	require.NoError(t, err)
	_, err = c.Login(ctx, LoginInput{Username: "pat", Credential: "pat-pass"})
	require.NoError(t, err)

	require.NoError(t, c.Logout(ctx, "pat"))
	require.Eventually(t, func() bool { return notifier.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The partner call is still pending here.
	acct, err := c.Status(ctx, "pat")
	require.NoError(t, err)
	assert.False(t, acct.Presence.LoggedIn())

	_, err = c.Login(ctx, LoginInput{Username: "pat", Credential: "pat-pass"})
	assert.NoError(t, err, "a new login does not wait for the partner")

	close(notifier.release)
	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, disp.Close(closeCtx))
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(nil, ledger.NewMemoryStore(), &plainCreds{})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.SessionTTL = -time.Second
	_, err = New(account.NewMemoryStore(), ledger.NewMemoryStore(), &plainCreds{}, WithConfig(cfg))
	assert.Error(t, err)
}
