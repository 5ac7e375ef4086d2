package registration

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	"shopbot/internal/recipients"
	"shopbot/internal/storage"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

const testSecret = "s3cret"

type sentMsg struct {
	chatID int64
	text   string
}

type fakeReplier struct {
	mu   sync.Mutex
	msgs []sentMsg
}

func (f *fakeReplier) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sentMsg{chatID: chatID, text: text})
	return nil
}

func (f *fakeReplier) last(t *testing.T) sentMsg {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		t.Fatal("no reply sent")
	}
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeReplier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (f *fakeAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fixture struct {
	m     *Machine
	store storage.Store
	dir   *recipients.Directory
	reply *fakeReplier
	audit *fakeAudit
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "reg.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	for _, a := range []struct{ user, pass, role string }{
		{"alice", "wonderland", model.RoleAdmin},
		{"bob", "builder", model.RoleUser},
	} {
		hash, err := model.HashPassword(a.pass)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		if _, err := st.CreateAccount(ctx, model.Account{Username: a.user, PasswordHash: hash, Role: a.role}); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}
	}

	dir := recipients.New(st, nil, 0, logx.Nop())
	f := &fixture{store: st, dir: dir, reply: &fakeReplier{}, audit: &fakeAudit{}}
	f.m = New(cfg, dir, st, f.audit, f.reply, eventbus.New(), logx.Nop())
	return f
}

func private(chatID int64, text string) kit.Inbound {
	return kit.Inbound{Kind: kit.KindPrivate, ChatID: chatID, FromID: chatID, DisplayName: "Ann", Text: text}
}

func (f *fixture) recipientCount(t *testing.T) int {
	t.Helper()
	all, err := f.dir.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	return len(all)
}

func TestGroupRegistersOnFirstContact(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PassPhrase: testSecret})
	ctx := context.Background()

	for _, kind := range []kit.ChannelKind{kit.KindGroup, kit.KindSupergroup, kit.KindChannel} {
		in := kit.Inbound{Kind: kind, ChatID: -int64(len(kind)) - 1000, DisplayName: "Sales " + string(kind), Text: "hello"}
		if got := f.m.Handle(ctx, in); got != OutcomeGroupRegistered {
			t.Fatalf("%s first contact = %q, want %q", kind, got, OutcomeGroupRegistered)
		}
		if got := f.m.Handle(ctx, in); got != OutcomeGroupKnown {
			t.Fatalf("%s second contact = %q, want %q", kind, got, OutcomeGroupKnown)
		}
	}
	if n := f.recipientCount(t); n != 3 {
		t.Fatalf("recipients = %d, want 3", n)
	}
	if n := f.reply.count(); n != 3 {
		t.Fatalf("replies = %d, want one per new group", n)
	}
	r, err := f.dir.Get(ctx, -1005)
	if err != nil || r.Tier != model.TierGroup {
		t.Fatalf("Get = (%+v, %v), want group tier", r, err)
	}
}

func TestPassPhraseLogin(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PassPhrase: testSecret})
	ctx := context.Background()

	if got := f.m.Handle(ctx, private(10, "/login nope")); got != OutcomeLoginRejected {
		t.Fatalf("bad secret = %q", got)
	}
	if n := f.recipientCount(t); n != 0 {
		t.Fatalf("rejected login created %d recipients", n)
	}

	if got := f.m.Handle(ctx, private(10, "/login "+testSecret)); got != OutcomeUserRegistered {
		t.Fatalf("good secret = %q", got)
	}
	if got := f.m.Handle(ctx, private(10, "/LOGIN@shop_bot "+testSecret)); got != OutcomeAlreadyRegistered {
		t.Fatalf("repeat = %q", got)
	}
	if n := f.recipientCount(t); n != 1 {
		t.Fatalf("recipients = %d, want 1", n)
	}
	if got := f.reply.last(t); got.chatID != 10 || !strings.Contains(got.text, "already registered") {
		t.Fatalf("last reply = %+v", got)
	}

	if len(f.audit.entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(f.audit.entries))
	}
	for _, e := range f.audit.entries {
		if strings.Contains(e.Error, testSecret) || strings.Contains(e.MetaJSON, testSecret) || strings.Contains(e.Target, testSecret) {
			t.Fatalf("audit entry leaks the secret: %+v", e)
		}
	}
	if f.audit.entries[0].OK || !f.audit.entries[1].OK {
		t.Fatalf("audit ok flags = %v, %v", f.audit.entries[0].OK, f.audit.entries[1].OK)
	}
}

func TestEmptyPassPhraseNeverMatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if got := f.m.Handle(context.Background(), private(11, "/login x")); got != OutcomeLoginRejected {
		t.Fatalf("Handle = %q, want rejection", got)
	}
	if n := f.recipientCount(t); n != 0 {
		t.Fatalf("recipients = %d, want 0", n)
	}
}

func TestAccountLoginIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PassPhrase: testSecret})
	ctx := context.Background()

	if got := f.m.Handle(ctx, private(20, "/login alice wonderland")); got != OutcomeUserRegistered {
		t.Fatalf("first login = %q", got)
	}
	first := f.reply.last(t)
	if got := f.m.Handle(ctx, private(20, "/login alice wonderland")); got != OutcomeAlreadyRegistered {
		t.Fatalf("second login = %q", got)
	}
	second := f.reply.last(t)

	if n := f.recipientCount(t); n != 1 {
		t.Fatalf("recipients = %d, want exactly 1", n)
	}
	r, err := f.dir.Get(ctx, 20)
	if err != nil || r.Username != "alice" {
		t.Fatalf("Get = (%+v, %v), want bound to alice", r, err)
	}
	if !strings.Contains(first.text, "successful") || !strings.Contains(second.text, "already registered") {
		t.Fatalf("replies = %q / %q", first.text, second.text)
	}
}

func TestAccountLoginRejections(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		text   string
		reason string
	}{
		{"wrong password", "/login alice wrongpass", reasonBadPassword},
		{"unknown account", "/login mallory x", reasonUnknownUser},
		{"role not allowed", "/login bob builder", reasonRoleForbidden},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{PassPhrase: testSecret})
			if got := f.m.Handle(context.Background(), private(30, tc.text)); got != OutcomeLoginRejected {
				t.Fatalf("Handle = %q, want rejection", got)
			}
			if n := f.recipientCount(t); n != 0 {
				t.Fatalf("recipients = %d, want 0", n)
			}
			if got := f.reply.last(t); !strings.Contains(got.text, "Login failed") {
				t.Fatalf("reply = %q", got.text)
			}
			if len(f.audit.entries) != 1 || f.audit.entries[0].Error != tc.reason {
				t.Fatalf("audit = %+v, want reason %q", f.audit.entries, tc.reason)
			}
		})
	}
}

func TestAllowedRolesOverride(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AllowedRoles: []string{model.RoleUser}})
	if got := f.m.Handle(context.Background(), private(31, "/login bob builder")); got != OutcomeUserRegistered {
		t.Fatalf("Handle = %q, want registered", got)
	}
}

func TestStartAndHelp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PassPhrase: testSecret})
	ctx := context.Background()

	if got := f.m.Handle(ctx, private(40, "/start")); got != OutcomeStatus {
		t.Fatalf("/start = %q", got)
	}
	reply := f.reply.last(t).text
	if strings.Contains(reply, testSecret) {
		t.Fatal("/start reveals the pass-phrase")
	}
	if !strings.Contains(reply, "/login &lt;password&gt;") {
		t.Fatalf("/start reply = %q", reply)
	}
	if n := f.recipientCount(t); n != 0 {
		t.Fatal("/start must not register")
	}

	f.m.Handle(ctx, private(40, "/login "+testSecret))
	f.m.Handle(ctx, private(40, "/start"))
	if reply := f.reply.last(t).text; !strings.Contains(reply, "online") {
		t.Fatalf("/start for registered chat = %q", reply)
	}

	if got := f.m.Handle(ctx, private(40, "/help")); got != OutcomeHelp {
		t.Fatalf("/help = %q", got)
	}
}

func TestMalformedInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{PassPhrase: testSecret})
	ctx := context.Background()

	cases := []struct {
		text string
		want Outcome
	}{
		{"hello there", OutcomeIgnored},
		{"", OutcomeIgnored},
		{"/", OutcomeIgnored},
		{"/login", OutcomeUsage},
		{"/login a b c", OutcomeUsage},
		{"/orders", OutcomeUsage},
	}
	for _, tc := range cases {
		if got := f.m.Handle(ctx, private(50, tc.text)); got != tc.want {
			t.Errorf("Handle(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
	if n := f.recipientCount(t); n != 0 {
		t.Fatalf("recipients = %d, want 0", n)
	}
	if n := f.reply.count(); n != 3 {
		t.Fatalf("replies = %d, want one usage hint per malformed command", n)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		cmd  string
		args int
		ok   bool
	}{
		{"/start", "start", 0, true},
		{"  /Login@ShopBot  a  b ", "login", 2, true},
		{"/help@bot", "help", 0, true},
		{"login x", "", 0, false},
		{"/@bot", "", 0, false},
	}
	for _, tc := range cases {
		cmd, args, ok := parseCommand(tc.in)
		if cmd != tc.cmd || len(args) != tc.args || ok != tc.ok {
			t.Errorf("parseCommand(%q) = (%q, %v, %v)", tc.in, cmd, args, ok)
		}
	}
}

type failingDirectory struct{}

func (failingDirectory) Register(context.Context, model.Recipient) (bool, error) {
	return false, errors.New("disk full")
}
func (failingDirectory) Get(context.Context, int64) (model.Recipient, error) {
	return model.Recipient{}, storage.ErrNotFound
}

func TestStoreFailureDoesNotPanic(t *testing.T) {
	t.Parallel()
	reply := &fakeReplier{}
	m := New(Config{PassPhrase: testSecret}, failingDirectory{}, nil, nil, reply, nil, logx.Nop())
	if got := m.Handle(context.Background(), private(60, "/login "+testSecret)); got != OutcomeFailed {
		t.Fatalf("Handle = %q, want failed", got)
	}
	if got := m.Handle(context.Background(), kit.Inbound{Kind: kit.KindGroup, ChatID: -60}); got != OutcomeFailed {
		t.Fatalf("group Handle = %q, want failed", got)
	}
	if reply.count() != 1 {
		t.Fatalf("replies = %d, want 1", reply.count())
	}
}
