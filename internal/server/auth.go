// auth.go - Authentication gate: registration, login, route guards.
//
// Authentication is a pluggable Strategy; LocalStrategy is the only
// concrete implementation and verifies a name/password pair against
// the account store. The gate itself owns the session bookkeeping.
package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"regexp"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "session"

	accountIDKey = "account_id"
	targetURLKey = "targetUrl"

	// bcrypt cost 12 balances login latency against brute-force cost.
	bcryptCost = 12
)

// dummyHash is compared against when the account name does not exist,
// so unknown-name and wrong-password logins take the same time. The
// comparison result is discarded.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// Credentials is what a Strategy authenticates.
type Credentials struct {
	Name     string
	Password string
}

// Strategy authenticates credentials against some identity source.
// Additional sources (e.g. an external IdP) are further
// implementations, not runtime dispatch by name.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (Account, error)
}

// LocalStrategy verifies credentials against stored bcrypt hashes.
type LocalStrategy struct {
	accounts AccountStore
}

// NewLocalStrategy builds the local credential strategy.
func NewLocalStrategy(accounts AccountStore) *LocalStrategy {
	return &LocalStrategy{accounts: accounts}
}

func (s *LocalStrategy) Name() string { return "local" }

// Authenticate returns ErrAuthenticationFailed for both unknown names
// and wrong passwords; the two are indistinguishable to the caller.
func (s *LocalStrategy) Authenticate(ctx context.Context, creds Credentials) (Account, error) {
	acct, err := s.accounts.ByName(ctx, creds.Name)
	if err != nil {
		if errors.Is(err, ErrNoAccount) {
			// Burn a hash comparison so the miss is not observable by timing.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(creds.Password))
			return Account{}, ErrAuthenticationFailed
		}
		return Account{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(creds.Password)) != nil {
		return Account{}, ErrAuthenticationFailed
	}
	return acct, nil
}

// Auth wires a Strategy and the session store into route guards and
// the register/login/logout operations.
type Auth struct {
	strategy Strategy
	accounts AccountStore
	store    sessions.Store
}

// NewAuth builds the authentication gate.
func NewAuth(strategy Strategy, accounts AccountStore, store sessions.Store) *Auth {
	return &Auth{strategy: strategy, accounts: accounts, store: store}
}

var accountNameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{1,50}$`)

// RegisterUser hashes the password and creates the account.
// Returns ErrDuplicateAccount when the name is taken and a
// ValidationError when the input is rejected.
func (a *Auth) RegisterUser(ctx context.Context, name, password string) (Account, error) {
	if !accountNameRe.MatchString(name) {
		return Account{}, ValidationError("account name must be 1-50 letters, digits or underscores")
	}
	if password == "" {
		return Account{}, ValidationError("password must not be empty")
	}
	if len(password) > 128 {
		return Account{}, ValidationError("password must be at most 128 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Account{}, err
	}
	return a.accounts.Create(ctx, name, string(hash))
}

// AuthRedirects names where Authenticate sends the browser next.
type AuthRedirects struct {
	Success string
	Failure string
}

// Authenticate runs the strategy on the login form and either attaches
// the account to the session or flashes a generic failure. The failure
// message never reveals whether the name or the password was wrong.
func (a *Auth) Authenticate(w http.ResponseWriter, r *http.Request, redirects AuthRedirects) {
	creds := Credentials{
		Name:     r.FormValue("name"),
		Password: r.FormValue("password"),
	}

	acct, err := a.strategy.Authenticate(r.Context(), creds)
	if err != nil {
		if !errors.Is(err, ErrAuthenticationFailed) {
			log.Printf("rid=%s msg=login_error strategy=%s err=%v",
				RequestIDFromContext(r.Context()), a.strategy.Name(), err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		session, _ := a.store.Get(r, sessionName)
		session.AddFlash("Invalid name or password")
		_ = session.Save(r, w)
		http.Redirect(w, r, redirects.Failure, http.StatusFound)
		return
	}

	session, _ := a.store.Get(r, sessionName)
	session.Values[accountIDKey] = acct.ID
	delete(session.Values, targetURLKey)
	if err := session.Save(r, w); err != nil {
		log.Printf("rid=%s msg=session_save_failed err=%v",
			RequestIDFromContext(r.Context()), err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, redirects.Success, http.StatusFound)
}

// CurrentAccount resolves the session's account, or nil when the
// request is anonymous.
func (a *Auth) CurrentAccount(r *http.Request) *Account {
	session, err := a.store.Get(r, sessionName)
	if err != nil {
		return nil
	}
	id, ok := session.Values[accountIDKey].(int64)
	if !ok {
		return nil
	}
	acct, err := a.accounts.ByID(r.Context(), id)
	if err != nil {
		return nil
	}
	return &acct
}

// TargetURL pops the post-login redirect target recorded by Check.
func (a *Auth) TargetURL(w http.ResponseWriter, r *http.Request) string {
	session, _ := a.store.Get(r, sessionName)
	target, ok := session.Values[targetURLKey].(string)
	if !ok || target == "" {
		return "/"
	}
	delete(session.Values, targetURLKey)
	_ = session.Save(r, w)
	return target
}

// Check guards a route for authenticated users. Anonymous requests get
// the original URL recorded for post-login redirect, then a 302.
func (a *Auth) Check(redirect string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.CurrentAccount(r) == nil {
				session, _ := a.store.Get(r, sessionName)
				session.Values[targetURLKey] = r.URL.RequestURI()
				_ = session.Save(r, w)
				http.Redirect(w, r, redirect, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckNot is the inverse guard: authenticated users are sent away
// (used to keep logged-in users off the login and register pages).
func (a *Auth) CheckNot(redirect string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.CurrentAccount(r) != nil {
				http.Redirect(w, r, redirect, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Logout destroys the session and redirects back to the referring
// page. Destruction errors are logged, not surfaced; the redirect
// happens either way.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	session, _ := a.store.Get(r, sessionName)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		log.Printf("rid=%s msg=logout_destroy_failed err=%v",
			RequestIDFromContext(r.Context()), err)
	}

	back := r.Referer()
	if back == "" {
		back = "/"
	}
	http.Redirect(w, r, back, http.StatusFound)
}
