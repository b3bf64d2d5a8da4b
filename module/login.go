package module

import (
	"context"
	"errors"
	"sync"

	"github.com/miekg/pkcs11"
	"go.uber.org/zap"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/nethsm"
)

// Role is a NetHSM user role a login context may hold.
type Role int

const (
	Operator Role = iota
	Administrator
)

func (r Role) String() string {
	switch r {
	case Operator:
		return "operator"
	case Administrator:
		return "administrator"
	}
	return "unknown"
}

// RoleOfUser maps a CKU_ user type to a role.
func RoleOfUser(userType uint) (Role, bool) {
	switch userType {
	case pkcs11.CKU_USER:
		return Operator, true
	case pkcs11.CKU_SO:
		return Administrator, true
	}
	return 0, false
}

// LoginCtx holds the roles a slot is logged in as, each with a client
// authenticated for it. Clones share the clients, and with them the
// credentials, but not the set of roles.
type LoginCtx struct {
	base  *nethsm.Client
	creds map[Role]nethsm.Credentials
	log   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[Role]*nethsm.Client
}

// NewLoginCtx returns an anonymous context. base is the slot client and
// creds the configured user of each role.
func NewLoginCtx(base *nethsm.Client, creds map[Role]nethsm.Credentials, logger *zap.SugaredLogger) *LoginCtx {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LoginCtx{
		base:    base,
		creds:   creds,
		log:     logger,
		clients: make(map[Role]*nethsm.Client),
	}
}

// CanRun reports whether role is logged in.
func (l *LoginCtx) CanRun(role Role) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.clients[role]
	return ok
}

// Clone snapshots the context. Later logins and logouts do not change
// the clone.
func (l *LoginCtx) Clone() *LoginCtx {
	l.mu.RLock()
	defer l.mu.RUnlock()
	clients := make(map[Role]*nethsm.Client, len(l.clients))
	for role, client := range l.clients {
		clients[role] = client
	}
	return &LoginCtx{
		base:    l.base,
		creds:   l.creds,
		log:     l.log,
		clients: clients,
	}
}

// Login authenticates role with pin, or with the configured password
// when pin is empty. The credentials are checked against the NetHSM
// before the role is granted.
func (l *LoginCtx) Login(ctx context.Context, role Role, pin string) error {
	if l.CanRun(role) {
		return ckr.New("LoginCtx.Login", role.String()+" already logged in", ckr.UserAlreadyLoggedIn)
	}
	creds, ok := l.creds[role]
	if !ok || creds.Username == "" {
		return ckr.New("LoginCtx.Login", "no user configured for "+role.String(), ckr.UserTypeInvalid)
	}
	if pin != "" {
		creds.Password = pin
	}
	client, err := l.base.WithCredentials(creds)
	if err != nil {
		return ckr.Wrap("LoginCtx.Login", err, ckr.GeneralError)
	}
	if _, err := client.ListKeys(ctx, ""); err != nil {
		if nethsm.IsAuthExpired(err) {
			return ckr.New("LoginCtx.Login", "credentials rejected for "+creds.Username, ckr.PinIncorrect)
		}
		return ckr.Wrap("LoginCtx.Login", err, ckr.BackendError)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[role] = client
	l.log.Infow("logged in", "role", role.String(), "user", creds.Username)
	return nil
}

// Logout drops every role.
func (l *LoginCtx) Logout() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.clients) == 0 {
		return ckr.New("LoginCtx.Logout", "not logged in", ckr.NotLoggedIn)
	}
	l.clients = make(map[Role]*nethsm.Client)
	return nil
}

// Run calls fn with the client of role. When the NetHSM rejects the
// credentials they are rebuilt and fn is called once more. Errors
// other than ckr errors come back as BackendError, keeping the cause.
func (l *LoginCtx) Run(ctx context.Context, role Role, fn func(context.Context, *nethsm.Client) error) error {
	l.mu.RLock()
	client, ok := l.clients[role]
	l.mu.RUnlock()
	if !ok {
		return ckr.NotLoggedInAs("LoginCtx.Run", role.String())
	}
	return l.run(ctx, client, fn)
}

// RunRead calls fn with a client allowed to read key metadata: the
// operator, then the administrator, then the configured operator of the
// slot.
func (l *LoginCtx) RunRead(ctx context.Context, fn func(context.Context, *nethsm.Client) error) error {
	l.mu.RLock()
	client, ok := l.clients[Operator]
	if !ok {
		client, ok = l.clients[Administrator]
	}
	l.mu.RUnlock()
	if !ok {
		if l.base == nil || l.base.Username() == "" {
			return ckr.NotLoggedInAs("LoginCtx.RunRead", Operator.String())
		}
		client = l.base
	}
	return l.run(ctx, client, fn)
}

func (l *LoginCtx) run(ctx context.Context, client *nethsm.Client, fn func(context.Context, *nethsm.Client) error) error {
	err := fn(ctx, client)
	if nethsm.IsAuthExpired(err) {
		l.log.Debugw("authentication expired, retrying", "user", client.Username())
		if rerr := client.Reauthenticate(); rerr != nil {
			return ckr.Wrap("LoginCtx.Run", rerr, ckr.BackendError)
		}
		err = fn(ctx, client)
	}
	if err == nil {
		return nil
	}
	var ckErr *ckr.Error
	if errors.As(err, &ckErr) {
		return err
	}
	return ckr.Wrap("LoginCtx.Run", err, ckr.BackendError)
}
