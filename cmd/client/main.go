package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wisp-chat/wisp/internal/client/api"
	"github.com/wisp-chat/wisp/internal/client/bridge"
	"github.com/wisp-chat/wisp/internal/client/debug"
	"github.com/wisp-chat/wisp/internal/client/model"
	"github.com/wisp-chat/wisp/internal/client/payments"
	"github.com/wisp-chat/wisp/internal/client/presence"
	"github.com/wisp-chat/wisp/internal/client/session"
	"github.com/wisp-chat/wisp/internal/client/state"
	"github.com/wisp-chat/wisp/internal/config"
)

// --- Styles ---

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981")
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	ownMessageStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	otherMessageStyle = lipgloss.NewStyle().
				Foreground(primaryColor)

	onlineStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// --- View State ---

type viewState int

const (
	viewAuth viewState = iota
	viewMFA
	viewReset
	viewConversations
	viewBlocked
	viewChat
	viewNewGroup
	viewAddMember
	viewTip
)

type resetPhase int

const (
	resetEmail resetPhase = iota
	resetCode
	resetPassword
)

// convEntry flattens correspondents and groups into one navigable list.
type convEntry struct {
	group bool
	id    string
	label string
}

// app bundles the long-lived client components the TUI drives.
type app struct {
	cfg      config.Client
	api      *api.Client
	store    *state.Store
	presence *presence.Manager
	bridge   *bridge.Bridge
	pay      payments.Provider
}

// --- Messages ---

type errMsg struct{ err error }

type sessionCheckedMsg struct{}

type loggedInMsg struct{ res api.LoginResult }

type mfaRequiredMsg struct{ email string }

type registeredMsg struct{}

type resetAdvancedMsg struct{ phase resetPhase }

type loggedOutMsg struct{}

type storeChangedMsg struct{}

type opDoneMsg struct{}

type tipDoneMsg struct{}

// --- Main Model ---

type uiModel struct {
	app *app

	// Auth
	authAction       string // "login" or "register"
	displayNameInput textinput.Model
	emailInput       textinput.Model
	passwordInput    textinput.Model
	codeInput        textinput.Model
	authFocused      int
	mfaEmail         string
	resetStage       resetPhase
	statusLine       string

	// Conversations
	entries      []convEntry
	selectedConv int
	blockedIdx   int

	// Chat
	messageInput textinput.Model
	chatViewport viewport.Model
	renaming     bool
	renameInput  textinput.Model

	// New group
	groupNameInput textinput.Model
	groupFocus     int // 0=name, 1=member list
	memberCursor   int
	pickedMembers  map[string]bool

	// Add member
	addMemberIdx int

	// Tip
	tipAmountInput textinput.Model
	tipCardInput   textinput.Model
	tipExpiryInput textinput.Model
	tipCVCInput    textinput.Model
	tipFocused     int

	// UI
	view   viewState
	width  int
	height int
}

func initialModel(a *app) uiModel {
	displayNameInput := textinput.New()
	displayNameInput.Placeholder = "Display name"
	displayNameInput.CharLimit = 64
	displayNameInput.Width = 30

	emailInput := textinput.New()
	emailInput.Placeholder = "Email"
	emailInput.Focus()
	emailInput.CharLimit = 128
	emailInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 128
	passwordInput.Width = 30

	codeInput := textinput.New()
	codeInput.Placeholder = "6-digit code"
	codeInput.CharLimit = 6
	codeInput.Width = 10

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 2000
	messageInput.Width = 50

	renameInput := textinput.New()
	renameInput.Placeholder = "New group name"
	renameInput.CharLimit = 64
	renameInput.Width = 30

	groupNameInput := textinput.New()
	groupNameInput.Placeholder = "Group name"
	groupNameInput.CharLimit = 64
	groupNameInput.Width = 30

	tipAmountInput := textinput.New()
	tipAmountInput.Placeholder = "Amount, e.g. 5.00"
	tipAmountInput.CharLimit = 10
	tipAmountInput.Width = 15

	tipCardInput := textinput.New()
	tipCardInput.Placeholder = "Card number"
	tipCardInput.CharLimit = 19
	tipCardInput.Width = 22

	tipExpiryInput := textinput.New()
	tipExpiryInput.Placeholder = "MM/YY"
	tipExpiryInput.CharLimit = 5
	tipExpiryInput.Width = 8

	tipCVCInput := textinput.New()
	tipCVCInput.Placeholder = "CVC"
	tipCVCInput.EchoMode = textinput.EchoPassword
	tipCVCInput.CharLimit = 4
	tipCVCInput.Width = 6

	chatViewport := viewport.New(80, 20)

	return uiModel{
		app:              a,
		authAction:       "login",
		displayNameInput: displayNameInput,
		emailInput:       emailInput,
		passwordInput:    passwordInput,
		codeInput:        codeInput,
		messageInput:     messageInput,
		chatViewport:     chatViewport,
		renameInput:      renameInput,
		groupNameInput:   groupNameInput,
		tipAmountInput:   tipAmountInput,
		tipCardInput:     tipCardInput,
		tipExpiryInput:   tipExpiryInput,
		tipCVCInput:      tipCVCInput,
		pickedMembers:    make(map[string]bool),
		view:             viewAuth,
	}
}

// --- Commands ---

func callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func (m uiModel) checkSessionCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		m.app.presence.CheckSession(ctx)
		return sessionCheckedMsg{}
	}
}

func (m uiModel) loginCmd(email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		res, err := m.app.presence.Login(ctx, api.Credentials{Email: email, Password: password})
		if err != nil {
			return errMsg{err}
		}
		if res.MFARequired {
			return mfaRequiredMsg{email: email}
		}
		return loggedInMsg{res}
	}
}

func (m uiModel) verifyMFACmd(email, code string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		res, err := m.app.presence.VerifyMFA(ctx, email, code)
		if err != nil {
			return errMsg{err}
		}
		return loggedInMsg{res}
	}
}

func (m uiModel) registerCmd(name, email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		req := api.RegisterRequest{DisplayName: name, Email: email, Password: password}
		if err := m.app.presence.Register(ctx, req); err != nil {
			return errMsg{err}
		}
		return registeredMsg{}
	}
}

func (m uiModel) forgotPasswordCmd(email string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if err := m.app.presence.ForgotPassword(ctx, email); err != nil {
			return errMsg{err}
		}
		return resetAdvancedMsg{phase: resetCode}
	}
}

func (m uiModel) verifyResetCodeCmd(email, code string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if err := m.app.presence.VerifyResetCode(ctx, email, code); err != nil {
			return errMsg{err}
		}
		return resetAdvancedMsg{phase: resetPassword}
	}
}

func (m uiModel) resetPasswordCmd(email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if err := m.app.presence.ResetPassword(ctx, email, password); err != nil {
			return errMsg{err}
		}
		return loggedOutMsg{}
	}
}

func (m uiModel) logoutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if err := m.app.presence.Logout(ctx); err != nil {
			debug.Log("logout: %v", err)
		}
		return loggedOutMsg{}
	}
}

func (m uiModel) loadAllCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if err := m.app.store.LoadCorrespondents(ctx); err != nil {
			return errMsg{err}
		}
		if err := m.app.store.LoadGroups(ctx); err != nil {
			return errMsg{err}
		}
		return opDoneMsg{}
	}
}

func (m uiModel) openConversationCmd(entry convEntry) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if entry.group {
			m.app.store.SelectGroup(entry.id)
			if err := m.app.store.LoadGroupMessages(ctx, entry.id); err != nil {
				return errMsg{err}
			}
		} else {
			if err := m.app.store.SelectCorrespondent(ctx, entry.id); err != nil {
				return errMsg{err}
			}
			if err := m.app.store.LoadMessages(ctx, entry.id); err != nil {
				return errMsg{err}
			}
		}
		return opDoneMsg{}
	}
}

func (m uiModel) sendCmd(text string) tea.Cmd {
	sel := m.app.store.Selection()
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		draft := model.Draft{Text: text}
		var err error
		if sel.Kind == model.SelectGroup {
			err = m.app.store.SendGroup(ctx, draft)
		} else {
			err = m.app.store.Send(ctx, draft)
		}
		if err != nil {
			return errMsg{err}
		}
		return opDoneMsg{}
	}
}

func (m uiModel) storeOpCmd(op func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callCtx()
		defer cancel()
		if err := op(ctx); err != nil {
			return errMsg{err}
		}
		return opDoneMsg{}
	}
}

func (m uiModel) tipCmd(amount float64, card payments.Card, receiverID, messageID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()

		intentID, err := m.app.api.CreateTipIntent(ctx, receiverID, amount)
		if err != nil {
			return errMsg{fmt.Errorf("payment failed: %w", err)}
		}
		token, err := m.app.pay.Tokenize(ctx, card)
		if err != nil {
			return errMsg{fmt.Errorf("payment failed: %w", err)}
		}
		conf, err := m.app.pay.ConfirmIntent(ctx, intentID, token)
		if err != nil {
			return errMsg{fmt.Errorf("payment failed: %w", err)}
		}
		if !conf.Succeeded {
			return errMsg{fmt.Errorf("payment declined: %s", conf.FailureReason)}
		}

		tip := model.Tip{
			Amount:        amount,
			ReceiverID:    receiverID,
			MessageID:     messageID,
			TransactionID: conf.TransactionID,
		}
		if err := m.app.store.SaveTip(ctx, tip); err != nil {
			return errMsg{err}
		}
		return tipDoneMsg{}
	}
}

// --- Init ---

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.checkSessionCmd())
}

// --- Update ---

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if next, cmd, handled := m.handleKey(msg); handled {
			return next, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 8
		m.refreshChatViewport()

	case sessionCheckedMsg:
		if m.app.presence.Self() != nil {
			m.view = viewConversations
			return m, m.loadAllCmd()
		}

	case loggedInMsg:
		if self := msg.res.User; self != nil {
			sess := session.Session{
				ServerURL:   m.app.cfg.APIBaseURL,
				UserID:      self.ID,
				DisplayName: self.DisplayName,
				Token:       msg.res.Token,
			}
			if err := session.Save(m.app.cfg.Profile, &sess); err != nil {
				debug.Log("session save: %v", err)
			}
		}
		m.view = viewConversations
		m.statusLine = ""
		m.passwordInput.SetValue("")
		m.codeInput.SetValue("")
		return m, m.loadAllCmd()

	case mfaRequiredMsg:
		m.mfaEmail = msg.email
		m.view = viewMFA
		m.statusLine = ""
		m.codeInput.SetValue("")
		m.codeInput.Focus()

	case registeredMsg:
		m.authAction = "login"
		m.statusLine = "Account created, log in to continue"
		m.passwordInput.SetValue("")
		m.authFocused = 0
		m.refocusAuth()

	case resetAdvancedMsg:
		m.resetStage = msg.phase
		m.statusLine = ""
		switch msg.phase {
		case resetCode:
			m.codeInput.SetValue("")
			m.codeInput.Focus()
		case resetPassword:
			m.passwordInput.SetValue("")
			m.passwordInput.Focus()
		}

	case loggedOutMsg:
		fresh := initialModel(m.app)
		fresh.width, fresh.height = m.width, m.height
		if m.view == viewReset {
			fresh.statusLine = "Password updated, log in to continue"
		}
		return fresh, nil

	case storeChangedMsg, opDoneMsg:
		m.entries = m.buildEntries()
		if m.selectedConv >= len(m.entries) {
			m.selectedConv = maxInt(0, len(m.entries)-1)
		}
		m.refreshChatViewport()

	case tipDoneMsg:
		m.view = viewChat
		m.statusLine = "Tip sent"
		m.messageInput.Focus()

	case errMsg:
		m.statusLine = errorText(msg.err)
	}

	// Route remaining messages to whichever inputs are active.
	switch m.view {
	case viewAuth:
		m.displayNameInput, _ = m.displayNameInput.Update(msg)
		m.emailInput, _ = m.emailInput.Update(msg)
		m.passwordInput, _ = m.passwordInput.Update(msg)
	case viewMFA:
		m.codeInput, _ = m.codeInput.Update(msg)
	case viewReset:
		m.emailInput, _ = m.emailInput.Update(msg)
		m.codeInput, _ = m.codeInput.Update(msg)
		m.passwordInput, _ = m.passwordInput.Update(msg)
	case viewChat:
		if m.renaming {
			m.renameInput, _ = m.renameInput.Update(msg)
		} else {
			m.messageInput, _ = m.messageInput.Update(msg)
			m.chatViewport, _ = m.chatViewport.Update(msg)
		}
	case viewNewGroup:
		if m.groupFocus == 0 {
			m.groupNameInput, _ = m.groupNameInput.Update(msg)
		}
	case viewTip:
		m.tipAmountInput, _ = m.tipAmountInput.Update(msg)
		m.tipCardInput, _ = m.tipCardInput.Update(msg)
		m.tipExpiryInput, _ = m.tipExpiryInput.Update(msg)
		m.tipCVCInput, _ = m.tipCVCInput.Update(msg)
	}

	return m, nil
}

func (m uiModel) handleKey(msg tea.KeyMsg) (uiModel, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit, true

	case "esc":
		switch m.view {
		case viewMFA, viewReset:
			m.view = viewAuth
			m.statusLine = ""
			m.resetStage = resetEmail
			m.authFocused = 0
			m.refocusAuth()
			return m, nil, true
		case viewChat:
			if m.renaming {
				m.renaming = false
				m.messageInput.Focus()
				return m, nil, true
			}
			m.view = viewConversations
			m.app.store.ClearSelection()
			return m, nil, true
		case viewBlocked, viewNewGroup, viewAddMember:
			m.view = viewConversations
			return m, nil, true
		case viewTip:
			m.view = viewChat
			m.statusLine = ""
			m.messageInput.Focus()
			return m, nil, true
		}

	case "tab":
		switch m.view {
		case viewAuth:
			m.cycleAuthFocus()
			return m, nil, true
		case viewNewGroup:
			m.groupFocus = 1 - m.groupFocus
			if m.groupFocus == 0 {
				m.groupNameInput.Focus()
			} else {
				m.groupNameInput.Blur()
			}
			return m, nil, true
		case viewTip:
			m.cycleTipFocus()
			return m, nil, true
		}

	case "ctrl+r":
		if m.view == viewAuth {
			if m.authAction == "login" {
				m.authAction = "register"
			} else {
				m.authAction = "login"
			}
			m.authFocused = 0
			m.refocusAuth()
			return m, nil, true
		}

	case "ctrl+f":
		if m.view == viewAuth {
			m.view = viewReset
			m.resetStage = resetEmail
			m.statusLine = ""
			m.emailInput.Focus()
			return m, nil, true
		}

	case "ctrl+l":
		if m.view == viewConversations || m.view == viewChat {
			return m, m.logoutCmd(), true
		}

	case "enter":
		return m.handleEnter()

	case "up", "down":
		return m.handleArrow(msg.String() == "up")

	case " ":
		if m.view == viewNewGroup && m.groupFocus == 1 {
			users := m.app.store.Correspondents()
			if m.memberCursor < len(users) {
				id := users[m.memberCursor].ID
				m.pickedMembers[id] = !m.pickedMembers[id]
			}
			return m, nil, true
		}

	case "b":
		if m.view == viewConversations && m.selectedConv < len(m.entries) {
			entry := m.entries[m.selectedConv]
			if !entry.group {
				return m, m.storeOpCmd(func(ctx context.Context) error {
					return m.app.store.Block(ctx, entry.id)
				}), true
			}
		}

	case "B":
		if m.view == viewConversations {
			m.view = viewBlocked
			m.blockedIdx = 0
			return m, nil, true
		}

	case "u":
		if m.view == viewConversations && m.selectedConv < len(m.entries) {
			entry := m.entries[m.selectedConv]
			if !entry.group {
				return m, m.storeOpCmd(func(ctx context.Context) error {
					return m.app.store.MarkUnread(ctx, entry.id)
				}), true
			}
		}

	case "g":
		if m.view == viewConversations {
			m.view = viewNewGroup
			m.statusLine = ""
			m.groupNameInput.SetValue("")
			m.groupNameInput.Focus()
			m.groupFocus = 0
			m.memberCursor = 0
			m.pickedMembers = make(map[string]bool)
			return m, nil, true
		}

	case "ctrl+d":
		if m.view == viewChat {
			sel := m.app.store.Selection()
			switch sel.Kind {
			case model.SelectDirect:
				m.view = viewConversations
				return m, m.storeOpCmd(func(ctx context.Context) error {
					return m.app.store.DeleteConversation(ctx, sel.ID)
				}), true
			case model.SelectGroup:
				m.view = viewConversations
				return m, m.storeOpCmd(func(ctx context.Context) error {
					return m.app.store.LeaveGroup(ctx, sel.ID)
				}), true
			}
		}

	case "ctrl+n":
		if m.view == viewChat && m.app.store.Selection().Kind == model.SelectGroup {
			m.renaming = true
			m.renameInput.SetValue("")
			m.renameInput.Focus()
			m.messageInput.Blur()
			return m, nil, true
		}

	case "ctrl+a":
		if m.view == viewChat && m.app.store.Selection().Kind == model.SelectGroup {
			m.view = viewAddMember
			m.addMemberIdx = 0
			return m, nil, true
		}

	case "ctrl+t":
		if m.view == viewChat && m.app.store.Selection().Kind == model.SelectDirect {
			m.view = viewTip
			m.statusLine = ""
			m.tipFocused = 0
			m.tipAmountInput.SetValue("")
			m.tipCardInput.SetValue("")
			m.tipExpiryInput.SetValue("")
			m.tipCVCInput.SetValue("")
			m.tipAmountInput.Focus()
			m.tipCardInput.Blur()
			m.tipExpiryInput.Blur()
			m.tipCVCInput.Blur()
			m.messageInput.Blur()
			return m, nil, true
		}

	case "ctrl+s":
		if m.view == viewNewGroup {
			var members []string
			for id, picked := range m.pickedMembers {
				if picked {
					members = append(members, id)
				}
			}
			name := m.groupNameInput.Value()
			m.view = viewConversations
			return m, m.storeOpCmd(func(ctx context.Context) error {
				return m.app.store.CreateGroup(ctx, name, members)
			}), true
		}
		if m.view == viewTip {
			return m.submitTip()
		}

	case "q":
		if m.view == viewConversations || m.view == viewBlocked {
			return m, tea.Quit, true
		}
	}

	return m, nil, false
}

func (m uiModel) handleEnter() (uiModel, tea.Cmd, bool) {
	switch m.view {
	case viewAuth:
		email := m.emailInput.Value()
		password := m.passwordInput.Value()
		if email == "" || password == "" {
			return m, nil, true
		}
		if m.authAction == "register" {
			return m, m.registerCmd(m.displayNameInput.Value(), email, password), true
		}
		return m, m.loginCmd(email, password), true

	case viewMFA:
		if m.codeInput.Value() != "" {
			return m, m.verifyMFACmd(m.mfaEmail, m.codeInput.Value()), true
		}
		return m, nil, true

	case viewReset:
		switch m.resetStage {
		case resetEmail:
			if m.emailInput.Value() != "" {
				return m, m.forgotPasswordCmd(m.emailInput.Value()), true
			}
		case resetCode:
			if m.codeInput.Value() != "" {
				return m, m.verifyResetCodeCmd(m.emailInput.Value(), m.codeInput.Value()), true
			}
		case resetPassword:
			if m.passwordInput.Value() != "" {
				return m, m.resetPasswordCmd(m.emailInput.Value(), m.passwordInput.Value()), true
			}
		}
		return m, nil, true

	case viewConversations:
		if m.selectedConv < len(m.entries) {
			entry := m.entries[m.selectedConv]
			m.view = viewChat
			m.statusLine = ""
			m.messageInput.Focus()
			return m, m.openConversationCmd(entry), true
		}
		return m, nil, true

	case viewBlocked:
		blocked := m.app.store.Blocked()
		if m.blockedIdx < len(blocked) {
			id := blocked[m.blockedIdx].ID
			return m, m.storeOpCmd(func(ctx context.Context) error {
				return m.app.store.Unblock(ctx, id)
			}), true
		}
		return m, nil, true

	case viewChat:
		if m.renaming {
			name := m.renameInput.Value()
			sel := m.app.store.Selection()
			m.renaming = false
			m.messageInput.Focus()
			if name == "" || sel.Kind != model.SelectGroup {
				return m, nil, true
			}
			return m, m.storeOpCmd(func(ctx context.Context) error {
				return m.app.store.RenameGroup(ctx, sel.ID, name)
			}), true
		}
		if m.messageInput.Value() != "" {
			text := m.messageInput.Value()
			m.messageInput.SetValue("")
			return m, m.sendCmd(text), true
		}
		return m, nil, true

	case viewAddMember:
		users := m.app.store.Correspondents()
		sel := m.app.store.Selection()
		if m.addMemberIdx < len(users) && sel.Kind == model.SelectGroup {
			id := users[m.addMemberIdx].ID
			m.view = viewChat
			m.messageInput.Focus()
			return m, m.storeOpCmd(func(ctx context.Context) error {
				return m.app.store.AddMember(ctx, sel.ID, id)
			}), true
		}
		return m, nil, true

	case viewTip:
		return m.submitTip()
	}

	return m, nil, false
}

func (m uiModel) handleArrow(up bool) (uiModel, tea.Cmd, bool) {
	move := func(idx, length int) int {
		if up && idx > 0 {
			return idx - 1
		}
		if !up && idx < length-1 {
			return idx + 1
		}
		return idx
	}

	switch m.view {
	case viewConversations:
		m.selectedConv = move(m.selectedConv, len(m.entries))
		return m, nil, true
	case viewBlocked:
		m.blockedIdx = move(m.blockedIdx, len(m.app.store.Blocked()))
		return m, nil, true
	case viewNewGroup:
		if m.groupFocus == 1 {
			m.memberCursor = move(m.memberCursor, len(m.app.store.Correspondents()))
			return m, nil, true
		}
	case viewAddMember:
		m.addMemberIdx = move(m.addMemberIdx, len(m.app.store.Correspondents()))
		return m, nil, true
	}
	return m, nil, false
}

func (m uiModel) submitTip() (uiModel, tea.Cmd, bool) {
	sel := m.app.store.Selection()
	if sel.Kind != model.SelectDirect {
		m.view = viewChat
		return m, nil, true
	}

	target, ok := m.app.store.LatestFrom(sel.ID)
	if !ok {
		m.statusLine = "Nothing to tip yet: wait for a message from them"
		return m, nil, true
	}

	amount, err := strconv.ParseFloat(m.tipAmountInput.Value(), 64)
	if err != nil || amount <= 0 {
		m.statusLine = "Enter a positive amount"
		return m, nil, true
	}
	card, err := parseCard(m.tipCardInput.Value(), m.tipExpiryInput.Value(), m.tipCVCInput.Value())
	if err != nil {
		m.statusLine = errorText(err)
		return m, nil, true
	}

	m.statusLine = "Processing payment..."
	return m, m.tipCmd(amount, card, sel.ID, target.ID), true
}

func parseCard(number, expiry, cvc string) (payments.Card, error) {
	number = strings.ReplaceAll(number, " ", "")
	if len(number) < 12 {
		return payments.Card{}, fmt.Errorf("card number looks too short")
	}
	parts := strings.Split(expiry, "/")
	if len(parts) != 2 {
		return payments.Card{}, fmt.Errorf("expiry must be MM/YY")
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return payments.Card{}, fmt.Errorf("expiry must be MM/YY")
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return payments.Card{}, fmt.Errorf("expiry must be MM/YY")
	}
	if year < 100 {
		year += 2000
	}
	if len(cvc) < 3 {
		return payments.Card{}, fmt.Errorf("cvc looks too short")
	}
	return payments.Card{Number: number, ExpMonth: month, ExpYear: year, CVC: cvc}, nil
}

func (m *uiModel) cycleAuthFocus() {
	fields := 2
	if m.authAction == "register" {
		fields = 3
	}
	m.authFocused = (m.authFocused + 1) % fields
	m.refocusAuth()
}

func (m *uiModel) refocusAuth() {
	m.displayNameInput.Blur()
	m.emailInput.Blur()
	m.passwordInput.Blur()
	if m.authAction == "register" {
		switch m.authFocused {
		case 0:
			m.displayNameInput.Focus()
		case 1:
			m.emailInput.Focus()
		case 2:
			m.passwordInput.Focus()
		}
		return
	}
	if m.authFocused == 0 {
		m.emailInput.Focus()
	} else {
		m.passwordInput.Focus()
	}
}

func (m *uiModel) cycleTipFocus() {
	m.tipFocused = (m.tipFocused + 1) % 4
	m.tipAmountInput.Blur()
	m.tipCardInput.Blur()
	m.tipExpiryInput.Blur()
	m.tipCVCInput.Blur()
	switch m.tipFocused {
	case 0:
		m.tipAmountInput.Focus()
	case 1:
		m.tipCardInput.Focus()
	case 2:
		m.tipExpiryInput.Focus()
	case 3:
		m.tipCVCInput.Focus()
	}
}

// --- Derived state ---

func (m uiModel) buildEntries() []convEntry {
	var entries []convEntry
	for _, u := range m.app.store.Correspondents() {
		entries = append(entries, convEntry{id: u.ID, label: u.DisplayName})
	}
	for _, g := range m.app.store.Groups() {
		entries = append(entries, convEntry{group: true, id: g.ID, label: g.Name})
	}
	return entries
}

func (m uiModel) conversationTitle() string {
	sel := m.app.store.Selection()
	switch sel.Kind {
	case model.SelectDirect:
		for _, u := range m.app.store.Correspondents() {
			if u.ID == sel.ID {
				return u.DisplayName
			}
		}
	case model.SelectGroup:
		for _, g := range m.app.store.Groups() {
			if g.ID == sel.ID {
				return g.Name
			}
		}
	}
	return "Conversation"
}

func (m uiModel) senderName(msg model.Message) string {
	if self := m.app.presence.Self(); self != nil && msg.SenderID == self.ID {
		return self.DisplayName
	}
	for _, u := range m.app.store.Correspondents() {
		if u.ID == msg.SenderID {
			return u.DisplayName
		}
	}
	sel := m.app.store.Selection()
	if sel.Kind == model.SelectGroup {
		for _, g := range m.app.store.Groups() {
			if g.ID != sel.ID {
				continue
			}
			for _, member := range g.Members {
				if member.ID == msg.SenderID {
					return member.DisplayName
				}
			}
		}
	}
	return msg.SenderID
}

func (m *uiModel) refreshChatViewport() {
	if m.app.store.Selection().None() {
		return
	}
	self := m.app.presence.Self()

	var content strings.Builder
	for _, msg := range m.app.store.Messages() {
		timestamp := msg.CreatedAt.Local().Format("15:04")
		style := otherMessageStyle
		own := self != nil && msg.SenderID == self.ID
		if own {
			style = ownMessageStyle
		}

		body := msg.Text
		switch {
		case msg.ImageURL != "":
			body = "[image] " + msg.ImageURL
		case msg.AudioURL != "":
			body = "[audio] " + msg.AudioURL
		case msg.DocumentURL != "":
			body = "[document] " + msg.DocumentURL
		}

		marker := ""
		if own {
			switch msg.State {
			case model.Pending:
				marker = mutedStyle.Render(" …")
			case model.Failed:
				marker = errorStyle.Render(" ✗ " + msg.FailReason)
			}
		}

		line := fmt.Sprintf("%s %s: %s%s",
			mutedStyle.Render(timestamp),
			style.Render(m.senderName(msg)),
			body,
			marker,
		)
		content.WriteString(line + "\n")
	}
	m.chatViewport.SetContent(content.String())
	m.chatViewport.GotoBottom()
}

func errorText(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- View ---

func (m uiModel) View() string {
	switch m.view {
	case viewAuth:
		return m.authView()
	case viewMFA:
		return m.mfaView()
	case viewReset:
		return m.resetView()
	case viewConversations:
		return m.conversationsView()
	case viewBlocked:
		return m.blockedView()
	case viewChat:
		return m.chatView()
	case viewNewGroup:
		return m.newGroupView()
	case viewAddMember:
		return m.addMemberView()
	case viewTip:
		return m.tipView()
	}
	return ""
}

func (m uiModel) authView() string {
	var s strings.Builder

	title := titleStyle.Render("╔═══════════════════════════════╗\n║            WISP               ║\n╚═══════════════════════════════╝")

	s.WriteString("\n\n")
	s.WriteString(title)
	s.WriteString("\n\n")

	if m.authAction == "login" {
		s.WriteString(selectedStyle.Render("  → Login"))
		s.WriteString(mutedStyle.Render("   Register\n"))
	} else {
		s.WriteString(mutedStyle.Render("  Login   "))
		s.WriteString(selectedStyle.Render("→ Register\n"))
	}
	s.WriteString(helpStyle.Render("  (Ctrl+R to switch)\n\n"))

	if m.authAction == "register" {
		s.WriteString("  Display name:\n")
		s.WriteString("  " + m.displayNameInput.View() + "\n\n")
	}
	s.WriteString("  Email:\n")
	s.WriteString("  " + m.emailInput.View() + "\n\n")
	s.WriteString("  Password:\n")
	s.WriteString("  " + m.passwordInput.View() + "\n\n")

	if m.statusLine != "" {
		s.WriteString(errorStyle.Render("  " + m.statusLine + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab fields • Enter submit • Ctrl+F reset password • Ctrl+C quit\n"))

	return s.String()
}

func (m uiModel) mfaView() string {
	var s strings.Builder

	s.WriteString("\n\n")
	s.WriteString(titleStyle.Render("Two-Factor Verification"))
	s.WriteString("\n\n")
	s.WriteString(mutedStyle.Render(fmt.Sprintf("  A code was sent to %s\n\n", m.mfaEmail)))
	s.WriteString("  Code:\n")
	s.WriteString("  " + m.codeInput.View() + "\n\n")

	if m.statusLine != "" {
		s.WriteString(errorStyle.Render("  " + m.statusLine + "\n\n"))
	}
	s.WriteString(helpStyle.Render("  Enter to verify • Esc to go back"))

	return s.String()
}

func (m uiModel) resetView() string {
	var s strings.Builder

	s.WriteString("\n\n")
	s.WriteString(titleStyle.Render("Reset Password"))
	s.WriteString("\n\n")

	switch m.resetStage {
	case resetEmail:
		s.WriteString("  Email:\n")
		s.WriteString("  " + m.emailInput.View() + "\n\n")
		s.WriteString(helpStyle.Render("  Enter to request a reset code • Esc to go back"))
	case resetCode:
		s.WriteString(mutedStyle.Render(fmt.Sprintf("  A code was sent to %s\n\n", m.emailInput.Value())))
		s.WriteString("  Code:\n")
		s.WriteString("  " + m.codeInput.View() + "\n\n")
		s.WriteString(helpStyle.Render("  Enter to verify • Esc to go back"))
	case resetPassword:
		s.WriteString("  New password:\n")
		s.WriteString("  " + m.passwordInput.View() + "\n\n")
		s.WriteString(helpStyle.Render("  Enter to set password • Esc to go back"))
	}

	if m.statusLine != "" {
		s.WriteString("\n\n")
		s.WriteString(errorStyle.Render("  " + m.statusLine))
	}

	return s.String()
}

func (m uiModel) conversationsView() string {
	var s strings.Builder

	name := ""
	if self := m.app.presence.Self(); self != nil {
		name = self.DisplayName
	}
	s.WriteString(titleStyle.Render(fmt.Sprintf("WISP - %s", name)))
	s.WriteString("\n\n")

	if len(m.entries) == 0 {
		s.WriteString(mutedStyle.Render("  No conversations yet.\n"))
	} else {
		for i, entry := range m.entries {
			prefix := "  "
			style := lipgloss.NewStyle()
			if i == m.selectedConv {
				prefix = "→ "
				style = selectedStyle
			}

			icon := "💬"
			if entry.group {
				icon = "👥"
			}

			suffix := ""
			if !entry.group {
				if m.app.presence.IsOnline(entry.id) {
					suffix += " " + onlineStyle.Render("●")
				}
				for _, u := range m.app.store.Correspondents() {
					if u.ID == entry.id && u.Unread {
						suffix += " " + selectedStyle.Render("(new)")
					}
				}
			}

			s.WriteString(style.Render(fmt.Sprintf("%s%s %s", prefix, icon, entry.label)))
			s.WriteString(suffix + "\n")
		}
	}

	if m.statusLine != "" {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("  " + m.statusLine + "\n"))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter open • g new group • b block • B blocked • u mark unread • Ctrl+L logout • q quit"))

	return s.String()
}

func (m uiModel) blockedView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Blocked Users"))
	s.WriteString("\n\n")

	blocked := m.app.store.Blocked()
	if len(blocked) == 0 {
		s.WriteString(mutedStyle.Render("  Nobody is blocked.\n"))
	} else {
		for i, u := range blocked {
			prefix := "  "
			style := lipgloss.NewStyle()
			if i == m.blockedIdx {
				prefix = "→ "
				style = selectedStyle
			}
			s.WriteString(style.Render(fmt.Sprintf("%s🚫 %s\n", prefix, u.DisplayName)))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter unblock • Esc back"))

	return s.String()
}

func (m uiModel) chatView() string {
	var s strings.Builder

	header := titleStyle.Render(fmt.Sprintf("💬 %s", m.conversationTitle()))
	s.WriteString(header)
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", maxInt(1, m.width-2)))
	s.WriteString("\n")

	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", maxInt(1, m.width-2)))
	s.WriteString("\n")

	if m.renaming {
		s.WriteString("Rename group: " + m.renameInput.View())
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("Enter to rename • Esc to cancel"))
		return s.String()
	}

	s.WriteString(m.messageInput.View())
	s.WriteString("\n")

	if m.statusLine != "" {
		s.WriteString(errorStyle.Render(m.statusLine))
		s.WriteString("\n")
	}

	if m.app.store.Selection().Kind == model.SelectGroup {
		s.WriteString(helpStyle.Render("Enter send • Ctrl+N rename • Ctrl+A add member • Ctrl+D leave • Esc back"))
	} else {
		s.WriteString(helpStyle.Render("Enter send • Ctrl+T tip • Ctrl+D delete conversation • Esc back"))
	}

	return s.String()
}

func (m uiModel) newGroupView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New Group"))
	s.WriteString("\n\n")

	s.WriteString("  Name:\n")
	s.WriteString("  " + m.groupNameInput.View() + "\n\n")

	s.WriteString("  Members (need at least 2):\n")
	users := m.app.store.Correspondents()
	if len(users) == 0 {
		s.WriteString(mutedStyle.Render("    nobody to add\n"))
	}
	for i, u := range users {
		cursor := "  "
		if m.groupFocus == 1 && i == m.memberCursor {
			cursor = "→ "
		}
		check := "[ ]"
		if m.pickedMembers[u.ID] {
			check = "[x]"
		}
		line := fmt.Sprintf("  %s%s %s\n", cursor, check, u.DisplayName)
		if m.groupFocus == 1 && i == m.memberCursor {
			s.WriteString(selectedStyle.Render(line))
		} else {
			s.WriteString(line)
		}
	}

	if m.statusLine != "" {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("  " + m.statusLine + "\n"))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  Tab name/members • Space toggle • Ctrl+S create • Esc cancel"))

	return s.String()
}

func (m uiModel) addMemberView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Add Member"))
	s.WriteString("\n\n")

	users := m.app.store.Correspondents()
	if len(users) == 0 {
		s.WriteString(mutedStyle.Render("  nobody to add\n"))
	}
	for i, u := range users {
		prefix := "  "
		style := lipgloss.NewStyle()
		if i == m.addMemberIdx {
			prefix = "→ "
			style = selectedStyle
		}
		s.WriteString(style.Render(fmt.Sprintf("%s%s\n", prefix, u.DisplayName)))
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter add • Esc back"))

	return s.String()
}

func (m uiModel) tipView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf("Tip %s", m.conversationTitle())))
	s.WriteString("\n\n")

	s.WriteString("  Amount:\n")
	s.WriteString("  " + m.tipAmountInput.View() + "\n\n")
	s.WriteString("  Card number:\n")
	s.WriteString("  " + m.tipCardInput.View() + "\n\n")
	s.WriteString("  Expiry:        CVC:\n")
	s.WriteString("  " + m.tipExpiryInput.View() + "   " + m.tipCVCInput.View() + "\n\n")

	if m.statusLine != "" {
		s.WriteString(errorStyle.Render("  " + m.statusLine + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab fields • Ctrl+S pay • Esc cancel"))

	return s.String()
}

// --- Main ---

func main() {
	cfg := config.LoadClient()
	debug.Enabled = cfg.Debug

	apiClient := api.New(cfg.APIBaseURL)
	if sess := session.Load(cfg.Profile); sess != nil {
		apiClient.SetToken(sess.Token)
	}

	store := state.New(apiClient)
	mgr := presence.NewManager(apiClient, cfg.WSBaseURL, nil)
	br := bridge.New(mgr, store)

	a := &app{
		cfg:      cfg,
		api:      apiClient,
		store:    store,
		presence: mgr,
		bridge:   br,
		pay:      payments.NewHTTPProvider(cfg.PaymentsURL),
	}

	p := tea.NewProgram(initialModel(a), tea.WithAltScreen())

	mgr.SetHooks(
		func(id string) {
			store.SetSelf(id)
			br.Subscribe()
		},
		func() {
			br.Unsubscribe()
			store.Reset()
			session.Clear(cfg.Profile)
			apiClient.SetToken("")
		},
		func() { p.Send(storeChangedMsg{}) },
	)
	store.SetOnChange(func() { p.Send(storeChangedMsg{}) })

	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
