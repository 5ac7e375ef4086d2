// Package registration turns inbound chat events into subscription changes.
//
// A chat address is either unknown or registered; the state lives in the
// recipient directory. Group-like conversations register themselves on
// first contact. Private chats register with "/login <pass-phrase>" or
// "/login <username> <password>". Every reply goes back to the chat the
// event came from.
package registration

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"shopbot/internal/eventbus"
	"shopbot/internal/model"
	"shopbot/internal/storage"
	kit "shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

// Outcome names what Handle did with one event.
type Outcome string

const (
	OutcomeIgnored           Outcome = "ignored"
	OutcomeGroupRegistered   Outcome = "group_registered"
	OutcomeGroupKnown        Outcome = "group_known"
	OutcomeUserRegistered    Outcome = "user_registered"
	OutcomeAlreadyRegistered Outcome = "already_registered"
	OutcomeLoginRejected     Outcome = "login_rejected"
	OutcomeStatus            Outcome = "status"
	OutcomeHelp              Outcome = "help"
	OutcomeUsage             Outcome = "usage"
	OutcomeFailed            Outcome = "failed"
)

// Mutated reports whether the outcome wrote a recipient.
func (o Outcome) Mutated() bool {
	return o == OutcomeGroupRegistered || o == OutcomeUserRegistered
}

// Audit actions.
const (
	ActionLoginPassPhrase = "login.pass_phrase"
	ActionLoginAccount    = "login.account"
	ActionRegisterGroup   = "register.group"
)

// Reasons recorded for rejected logins. They never contain the secret.
const (
	reasonBadSecret     = "bad_secret"
	reasonNoPassPhrase  = "pass_phrase_unset"
	reasonUnknownUser   = "unknown_account"
	reasonBadPassword   = "bad_password"
	reasonRoleForbidden = "role_forbidden"
	reasonStoreError    = "store_error"
)

type Config struct {
	PassPhrase   string
	AllowedRoles []string
	// Timeout bounds each store call made while handling one event.
	Timeout time.Duration
}

// Directory is the subset of the recipient directory the machine needs.
type Directory interface {
	Register(ctx context.Context, r model.Recipient) (created bool, err error)
	Get(ctx context.Context, chatID int64) (model.Recipient, error)
}

type Replier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

type Accounts interface {
	AccountByUsername(ctx context.Context, username string) (model.Account, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Machine struct {
	mu  sync.RWMutex
	cfg Config

	dir      Directory
	accounts Accounts
	audit    Auditor
	reply    Replier
	bus      eventbus.Bus
	log      logx.Logger
}

func New(cfg Config, dir Directory, accounts Accounts, audit Auditor, reply Replier, bus eventbus.Bus, log logx.Logger) *Machine {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Machine{dir: dir, accounts: accounts, audit: audit, reply: reply, bus: bus, log: log}
	m.Apply(cfg)
	return m
}

// Apply swaps the credentials and role list. Events already being handled
// finish with the old values.
func (m *Machine) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.AllowedRoles) == 0 {
		cfg.AllowedRoles = []string{model.RoleAdmin, model.RolePartner}
	}
	cfg.AllowedRoles = append([]string(nil), cfg.AllowedRoles...)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Machine) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Handle processes one inbound event. It never fails: store errors are
// logged and turned into a reply or into OutcomeFailed.
func (m *Machine) Handle(ctx context.Context, in kit.Inbound) Outcome {
	if in.ChatID == 0 {
		return OutcomeIgnored
	}
	if in.Kind.Broadcast() {
		return m.handleGroup(ctx, in)
	}
	if in.Kind != kit.KindPrivate {
		return OutcomeIgnored
	}

	cmd, args, ok := parseCommand(in.Text)
	if !ok {
		return OutcomeIgnored
	}
	switch cmd {
	case "login":
		switch len(args) {
		case 1:
			return m.loginPassPhrase(ctx, in, args[0])
		case 2:
			return m.loginAccount(ctx, in, args[0], args[1])
		default:
			m.send(ctx, in.ChatID, msgUsage())
			return OutcomeUsage
		}
	case "start":
		return m.start(ctx, in)
	case "help":
		m.send(ctx, in.ChatID, msgHelp())
		return OutcomeHelp
	default:
		m.send(ctx, in.ChatID, msgUsage())
		return OutcomeUsage
	}
}

func (m *Machine) handleGroup(ctx context.Context, in kit.Inbound) Outcome {
	cfg := m.config()
	lookupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	_, err := m.dir.Get(lookupCtx, in.ChatID)
	cancel()
	switch {
	case err == nil:
		return OutcomeGroupKnown
	case !errors.Is(err, storage.ErrNotFound):
		m.log.Warn("recipient lookup failed", logx.Int64("chat_id", in.ChatID), logx.Err(err))
		return OutcomeFailed
	}

	created, err := m.dir.Register(ctx, model.Recipient{
		ChatID:      in.ChatID,
		DisplayName: displayName(in, "Group"),
		Tier:        model.TierGroup,
	})
	m.appendAudit(ctx, in, ActionRegisterGroup, "", err == nil, errString(err))
	if err != nil {
		m.log.Warn("group registration failed", logx.Int64("chat_id", in.ChatID), logx.Err(err))
		return OutcomeFailed
	}
	if !created {
		return OutcomeGroupKnown
	}
	m.send(ctx, in.ChatID, msgGroupRegistered())
	return OutcomeGroupRegistered
}

func (m *Machine) loginPassPhrase(ctx context.Context, in kit.Inbound, secret string) Outcome {
	cfg := m.config()
	if cfg.PassPhrase == "" {
		return m.reject(ctx, in, ActionLoginPassPhrase, "", reasonNoPassPhrase)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(cfg.PassPhrase)) != 1 {
		return m.reject(ctx, in, ActionLoginPassPhrase, "", reasonBadSecret)
	}

	created, err := m.dir.Register(ctx, model.Recipient{
		ChatID:      in.ChatID,
		DisplayName: displayName(in, "User"),
		Tier:        model.TierUser,
	})
	if err != nil {
		m.log.Warn("user registration failed", logx.Int64("chat_id", in.ChatID), logx.Err(err))
		m.appendAudit(ctx, in, ActionLoginPassPhrase, "", false, reasonStoreError)
		m.send(ctx, in.ChatID, msgTryLater())
		return OutcomeFailed
	}
	m.appendAudit(ctx, in, ActionLoginPassPhrase, "", true, "")
	if !created {
		m.send(ctx, in.ChatID, msgAlreadyRegistered())
		return OutcomeAlreadyRegistered
	}
	m.send(ctx, in.ChatID, msgRegistered())
	return OutcomeUserRegistered
}

func (m *Machine) loginAccount(ctx context.Context, in kit.Inbound, username, password string) Outcome {
	cfg := m.config()
	username = strings.TrimSpace(username)

	lookupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	acct, err := m.accounts.AccountByUsername(lookupCtx, username)
	cancel()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return m.reject(ctx, in, ActionLoginAccount, username, reasonUnknownUser)
	case err != nil:
		m.log.Warn("account lookup failed", logx.String("username", username), logx.Err(err))
		return m.reject(ctx, in, ActionLoginAccount, username, reasonStoreError)
	}
	if !acct.VerifyPassword(password) {
		return m.reject(ctx, in, ActionLoginAccount, username, reasonBadPassword)
	}
	if !acct.HasRole(cfg.AllowedRoles...) {
		return m.reject(ctx, in, ActionLoginAccount, username, reasonRoleForbidden)
	}

	lookupCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	cur, err := m.dir.Get(lookupCtx, in.ChatID)
	cancel()
	if err == nil && cur.Username == acct.Username {
		m.appendAudit(ctx, in, ActionLoginAccount, acct.Username, true, "")
		m.send(ctx, in.ChatID, msgAlreadyRegistered())
		return OutcomeAlreadyRegistered
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.log.Warn("recipient lookup failed", logx.Int64("chat_id", in.ChatID), logx.Err(err))
		return m.reject(ctx, in, ActionLoginAccount, username, reasonStoreError)
	}

	if _, err := m.dir.Register(ctx, model.Recipient{
		ChatID:      in.ChatID,
		DisplayName: displayName(in, acct.Username),
		Username:    acct.Username,
		Tier:        model.TierUser,
	}); err != nil {
		m.log.Warn("user registration failed", logx.Int64("chat_id", in.ChatID), logx.Err(err))
		m.appendAudit(ctx, in, ActionLoginAccount, acct.Username, false, reasonStoreError)
		m.send(ctx, in.ChatID, msgTryLater())
		return OutcomeFailed
	}
	m.appendAudit(ctx, in, ActionLoginAccount, acct.Username, true, "")
	m.send(ctx, in.ChatID, msgRegisteredAs(acct.Username, acct.Role))
	return OutcomeUserRegistered
}

func (m *Machine) start(ctx context.Context, in kit.Inbound) Outcome {
	cfg := m.config()
	lookupCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	r, err := m.dir.Get(lookupCtx, in.ChatID)
	cancel()
	switch {
	case err == nil:
		m.send(ctx, in.ChatID, msgStatus(r))
	case errors.Is(err, storage.ErrNotFound):
		m.send(ctx, in.ChatID, msgPrivateBot())
	default:
		m.log.Warn("recipient lookup failed", logx.Int64("chat_id", in.ChatID), logx.Err(err))
		m.send(ctx, in.ChatID, msgTryLater())
		return OutcomeFailed
	}
	return OutcomeStatus
}

func (m *Machine) reject(ctx context.Context, in kit.Inbound, action, username, reason string) Outcome {
	m.log.Info("login rejected",
		logx.Int64("chat_id", in.ChatID),
		logx.String("action", action),
		logx.String("reason", reason),
	)
	m.appendAudit(ctx, in, action, username, false, reason)
	eventbus.Publish(m.bus, eventbus.TypeLoginRejected, map[string]any{
		"chat_id": in.ChatID,
		"action":  action,
		"reason":  reason,
	})
	m.send(ctx, in.ChatID, msgLoginRejected())
	return OutcomeLoginRejected
}

func (m *Machine) appendAudit(ctx context.Context, in kit.Inbound, action, username string, ok bool, reason string) {
	if m.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"kind": string(in.Kind), "display_name": in.DisplayName})
	e := storage.AuditEntry{
		At:            time.Now(),
		ActorID:       in.FromID,
		ActorUsername: in.Username,
		ChatID:        in.ChatID,
		Action:        action,
		Target:        username,
		OK:            ok,
		Error:         reason,
		MetaJSON:      string(meta),
	}
	actx, cancel := context.WithTimeout(ctx, m.config().Timeout)
	defer cancel()
	if err := m.audit.AppendAudit(actx, e); err != nil {
		m.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (m *Machine) send(ctx context.Context, chatID int64, text string) {
	if m.reply == nil {
		return
	}
	if err := m.reply.Send(ctx, chatID, text); err != nil {
		m.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// parseCommand splits "/Cmd@bot a b" into ("cmd", [a b], true). Text that
// does not start with a slash is not a command.
func parseCommand(text string) (cmd string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

func displayName(in kit.Inbound, fallback string) string {
	if s := strings.TrimSpace(in.DisplayName); s != "" {
		return s
	}
	return fallback
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
