// Package presence owns the authenticated identity and the single live
// websocket connection to the presence/event channel. The conversation store
// borrows the event registry to hear about pushed messages; it never touches
// the connection itself.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wisp-chat/wisp/internal/client/api"
	"github.com/wisp-chat/wisp/internal/client/debug"
	"github.com/wisp-chat/wisp/internal/client/model"
)

// Handler consumes the raw payload of one pushed event.
type Handler func(payload json.RawMessage)

// Conn is the minimal surface the manager needs from a websocket connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens a presence connection. Production uses Dial; tests inject a
// fake feeding scripted events.
type Dialer func(url string) (Conn, error)

type gorillaConn struct {
	c *websocket.Conn
}

func (g gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := g.c.ReadMessage()
	return data, err
}

func (g gorillaConn) Close() error { return g.c.Close() }

// Dial opens a gorilla websocket connection to the presence endpoint.
func Dial(url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return gorillaConn{c: c}, nil
}

// AuthAPI is the slice of the REST client the manager drives. *api.Client
// satisfies it.
type AuthAPI interface {
	Check(ctx context.Context) (model.User, error)
	Login(ctx context.Context, creds api.Credentials) (api.LoginResult, error)
	VerifyMFA(ctx context.Context, email, code string) (api.LoginResult, error)
	Logout(ctx context.Context) error
	Register(ctx context.Context, req api.RegisterRequest) error
	ForgotPassword(ctx context.Context, email string) error
	VerifyResetCode(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, email, password string) error
	UpdateProfile(ctx context.Context, upd api.ProfileUpdate) (model.User, error)
}

type Manager struct {
	mu       sync.Mutex
	api      AuthAPI
	dial     Dialer
	wsURL    string
	self     *model.User
	online   map[string]bool
	conn     Conn
	live     bool
	backoff  time.Duration
	handlers map[string]Handler

	onIdentity func(id string) // fired when identity becomes known
	onLogout   func()          // fired when identity is dropped
	onChange   func()
}

func NewManager(authAPI AuthAPI, wsURL string, dial Dialer) *Manager {
	if dial == nil {
		dial = Dial
	}
	return &Manager{
		api:      authAPI,
		dial:     dial,
		wsURL:    wsURL,
		online:   make(map[string]bool),
		backoff:  time.Second,
		handlers: make(map[string]Handler),
	}
}

// SetHooks wires the store into the session lifecycle: onIdentity runs when
// a user logs in or a session check succeeds, onLogout when identity is
// dropped, onChange after presence updates.
func (m *Manager) SetHooks(onIdentity func(id string), onLogout, onChange func()) {
	m.mu.Lock()
	m.onIdentity = onIdentity
	m.onLogout = onLogout
	m.onChange = onChange
	m.mu.Unlock()
}

// --- identity ---

func (m *Manager) Self() *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.self == nil {
		return nil
	}
	u := *m.self
	return &u
}

// CheckSession asks the backend whether the cached token is still valid. On
// success identity is set and the presence connection opened; on failure
// identity simply stays nil. No error reaches the caller.
func (m *Manager) CheckSession(ctx context.Context) {
	u, err := m.api.Check(ctx)
	if err != nil {
		debug.Log("presence: session check failed: %v", err)
		m.setSelf(nil)
		return
	}
	m.setSelf(&u)
	if err := m.Connect(); err != nil {
		debug.Log("presence: connect after session check: %v", err)
	}
}

func (m *Manager) Login(ctx context.Context, creds api.Credentials) (api.LoginResult, error) {
	res, err := m.api.Login(ctx, creds)
	if err != nil {
		return api.LoginResult{}, err
	}
	if res.MFARequired {
		// Identity stays unset until the MFA leg completes.
		return res, nil
	}
	m.setSelf(res.User)
	if err := m.Connect(); err != nil {
		debug.Log("presence: connect after login: %v", err)
	}
	return res, nil
}

func (m *Manager) VerifyMFA(ctx context.Context, email, code string) (api.LoginResult, error) {
	res, err := m.api.VerifyMFA(ctx, email, code)
	if err != nil {
		return api.LoginResult{}, err
	}
	m.setSelf(res.User)
	if err := m.Connect(); err != nil {
		debug.Log("presence: connect after mfa: %v", err)
	}
	return res, nil
}

// Logout tears down identity, presence and conversation state even when the
// backend call fails, so nothing leaks into a later session.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.api.Logout(ctx)

	m.mu.Lock()
	m.self = nil
	m.online = make(map[string]bool)
	onLogout := m.onLogout
	m.mu.Unlock()

	m.Disconnect()
	if onLogout != nil {
		onLogout()
	}
	m.notify()
	return err
}

func (m *Manager) Register(ctx context.Context, req api.RegisterRequest) error {
	return m.api.Register(ctx, req)
}

func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	return m.api.ForgotPassword(ctx, email)
}

func (m *Manager) VerifyResetCode(ctx context.Context, email, code string) error {
	return m.api.VerifyResetCode(ctx, email, code)
}

func (m *Manager) ResetPassword(ctx context.Context, email, password string) error {
	return m.api.ResetPassword(ctx, email, password)
}

func (m *Manager) UpdateProfile(ctx context.Context, upd api.ProfileUpdate) error {
	u, err := m.api.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	m.setSelf(&u)
	return nil
}

func (m *Manager) setSelf(u *model.User) {
	m.mu.Lock()
	m.self = u
	onIdentity := m.onIdentity
	m.mu.Unlock()

	if u != nil && onIdentity != nil {
		onIdentity(u.ID)
	}
	m.notify()
}

// --- connection ---

// Connect is idempotent: a nil identity or an already-live connection makes
// it a no-op.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.self == nil || m.live {
		m.mu.Unlock()
		return nil
	}
	url := m.wsURL + "?user_id=" + m.self.ID
	m.mu.Unlock()

	conn, err := m.dial(url)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.live {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.live = true
	m.mu.Unlock()

	go m.readLoop(conn)
	return nil
}

// Disconnect closes the live connection. Safe to call when none exists.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.live = false
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			dropped := m.conn == conn
			if dropped {
				m.conn = nil
				m.live = false
			}
			m.mu.Unlock()
			debug.Log("presence: read loop ended: %v", err)
			m.notify()
			// A conn the manager no longer tracks was closed on purpose;
			// only an unexpected drop warrants reconnecting.
			if dropped {
				go m.reconnect()
			}
			return
		}
		m.dispatch(data)
	}
}

// reconnect redials after a dropped connection, backing off up to 30s.
// It stops when identity is gone or a connection is live again.
func (m *Manager) reconnect() {
	m.mu.Lock()
	delay := m.backoff
	m.mu.Unlock()

	for {
		time.Sleep(delay)

		m.mu.Lock()
		idle := m.self == nil || m.live
		m.mu.Unlock()
		if idle {
			return
		}

		if err := m.Connect(); err != nil {
			debug.Log("presence: reconnect: %v", err)
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}
		return
	}
}

func (m *Manager) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		debug.Log("presence: bad event: %v", err)
		return
	}

	if env.Type == "online_users" {
		var roster struct {
			UserIDs []string `json:"user_ids"`
		}
		if err := json.Unmarshal(data, &roster); err != nil {
			return
		}
		// The backend pushes the full roster; replace, don't merge.
		online := make(map[string]bool, len(roster.UserIDs))
		for _, id := range roster.UserIDs {
			online[id] = true
		}
		m.mu.Lock()
		m.online = online
		m.mu.Unlock()
		m.notify()
		return
	}

	m.mu.Lock()
	h := m.handlers[env.Type]
	m.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// On registers the handler for an event type, replacing any previous one.
// One handler per event type at a time.
func (m *Manager) On(event string, h Handler) {
	m.mu.Lock()
	m.handlers[event] = h
	m.mu.Unlock()
}

func (m *Manager) Off(event string) {
	m.mu.Lock()
	delete(m.handlers, event)
	m.mu.Unlock()
}

// --- presence ---

func (m *Manager) Online() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) IsOnline(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID]
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

func (m *Manager) notify() {
	m.mu.Lock()
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}
