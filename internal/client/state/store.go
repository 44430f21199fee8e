// Package state holds the client's view of its conversations: who the
// correspondents and groups are, which conversation is active, and the active
// conversation's message list. It is the only writer of that state; the UI
// dispatches intents and re-reads.
package state

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisp-chat/wisp/internal/client/debug"
	"github.com/wisp-chat/wisp/internal/client/model"
)

var (
	ErrNoSelection  = errors.New("no active conversation")
	ErrEmptyDraft   = errors.New("message has no content")
	ErrGroupName    = errors.New("group name is required")
	ErrGroupMembers = errors.New("a group needs at least 2 members")
)

// Backend is the slice of the REST API the store depends on. *api.Client
// satisfies it; tests substitute a fake.
type Backend interface {
	Correspondents(ctx context.Context) ([]model.User, error)
	BlockedUsers(ctx context.Context) ([]model.User, error)
	Messages(ctx context.Context, peerID string) ([]model.Message, error)
	SendDirect(ctx context.Context, peerID string, msg model.Message) (model.Message, error)
	DeleteConversation(ctx context.Context, peerID string) error
	Block(ctx context.Context, userID string) error
	Unblock(ctx context.Context, userID string) (model.User, error)
	MarkSeen(ctx context.Context, senderID string) error
	MarkUnread(ctx context.Context, userID string) error
	Groups(ctx context.Context) ([]model.Group, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (model.Group, error)
	GroupMessages(ctx context.Context, groupID string) ([]model.Message, error)
	SendGroup(ctx context.Context, groupID string, msg model.Message) (model.Message, error)
	RenameGroup(ctx context.Context, groupID, name string) error
	UpdateGroupAvatar(ctx context.Context, groupID, avatarURL string) (model.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) (model.User, error)
	LeaveGroup(ctx context.Context, groupID string) error
	SaveTip(ctx context.Context, tip model.Tip) error
}

type Store struct {
	mu      sync.Mutex
	backend Backend

	selfID    string
	users     []model.User
	blocked   []model.User
	groups    []model.Group
	selection model.Selection
	messages  []model.Message
	seq       uint64
	tips      map[string]model.Tip // keyed by transaction id

	loadingUsers    bool
	loadingMessages bool
	loadingGroups   bool

	onChange func()
}

func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		tips:    make(map[string]model.Tip),
	}
}

// SetOnChange registers a callback fired after every state mutation. The
// callback runs without the store lock held.
func (s *Store) SetOnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetSelf records the authenticated user's id, used to stamp outgoing
// messages.
func (s *Store) SetSelf(id string) {
	s.mu.Lock()
	s.selfID = id
	s.mu.Unlock()
}

// Reset drops all conversation state. Called on logout so nothing leaks into
// the next session.
func (s *Store) Reset() {
	s.mu.Lock()
	s.users = nil
	s.blocked = nil
	s.groups = nil
	s.messages = nil
	s.selection = model.Selection{}
	s.selfID = ""
	s.tips = make(map[string]model.Tip)
	s.mu.Unlock()
	s.notify()
}

// --- Accessors ---

func (s *Store) Correspondents() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.User(nil), s.users...)
}

func (s *Store) Blocked() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.User(nil), s.blocked...)
}

func (s *Store) Groups() []model.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Group(nil), s.groups...)
}

func (s *Store) Selection() model.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Messages returns the active conversation's messages ordered by server
// timestamp, with the client sequence as tiebreaker. Display order never
// depends on array arrival order.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	out := append([]model.Message(nil), s.messages...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// LatestFrom returns the newest confirmed message the given sender has in
// the active conversation. Tips attach to it: a tip is always a tip on a
// concrete message, never free-floating.
func (s *Store) LatestFrom(senderID string) (model.Message, bool) {
	msgs := s.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.SenderID == senderID && m.State == model.Confirmed && m.ID != "" {
			return m, true
		}
	}
	return model.Message{}, false
}

func (s *Store) Loading() (users, messages, groups bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingUsers, s.loadingMessages, s.loadingGroups
}

// --- Correspondents and blocking ---

// LoadCorrespondents fetches the correspondent list and the blocked set, in
// that order, and publishes the former filtered by the latter. The blocked
// set must be current before filtering or a blocked user could transiently
// appear.
func (s *Store) LoadCorrespondents(ctx context.Context) error {
	s.setLoading(&s.loadingUsers, true)
	defer s.setLoading(&s.loadingUsers, false)

	users, err := s.backend.Correspondents(ctx)
	if err != nil {
		return err
	}
	blocked, err := s.backend.BlockedUsers(ctx)
	if err != nil {
		return err
	}

	blockedIDs := make(map[string]bool, len(blocked))
	for _, u := range blocked {
		blockedIDs[u.ID] = true
	}
	visible := users[:0:0]
	for _, u := range users {
		if !blockedIDs[u.ID] {
			visible = append(visible, u)
		}
	}

	s.mu.Lock()
	s.users = visible
	s.blocked = blocked
	s.mu.Unlock()
	s.notify()
	return nil
}

// Block moves a correspondent into the blocked set. The invariant that a
// blocked user never shows in the visible list is restored by re-fetching
// both sets rather than patching optimistically.
func (s *Store) Block(ctx context.Context, userID string) error {
	if err := s.backend.Block(ctx, userID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.selection.Kind == model.SelectDirect && s.selection.ID == userID {
		s.selection = model.Selection{}
		s.messages = nil
	}
	s.mu.Unlock()
	s.notify()

	return s.LoadCorrespondents(ctx)
}

func (s *Store) Unblock(ctx context.Context, userID string) error {
	u, err := s.backend.Unblock(ctx, userID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	kept := s.blocked[:0:0]
	for _, b := range s.blocked {
		if b.ID != userID {
			kept = append(kept, b)
		}
	}
	s.blocked = kept
	s.users = append(s.users, u)
	s.mu.Unlock()
	s.notify()
	return nil
}

// --- Selection ---

// SelectCorrespondent makes a direct conversation active and marks it seen.
// The tagged selection value guarantees no group stays selected alongside.
func (s *Store) SelectCorrespondent(ctx context.Context, userID string) error {
	s.mu.Lock()
	s.selection = model.Selection{Kind: model.SelectDirect, ID: userID}
	s.mu.Unlock()
	s.notify()
	return s.MarkSeen(ctx, userID)
}

func (s *Store) SelectGroup(groupID string) {
	s.mu.Lock()
	s.selection = model.Selection{Kind: model.SelectGroup, ID: groupID}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selection = model.Selection{}
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

// --- Messages ---

// LoadMessages replaces the active list with the server's view of a direct
// conversation. Local pending or failed entries for the same peer survive
// only if the server copy does not already include them, so a confirmed
// message never shows twice after a reload.
func (s *Store) LoadMessages(ctx context.Context, peerID string) error {
	s.setLoading(&s.loadingMessages, true)
	defer s.setLoading(&s.loadingMessages, false)

	msgs, err := s.backend.Messages(ctx, peerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.replaceMessagesLocked(msgs, func(m model.Message) bool {
		return m.GroupID == "" && m.RecipientID == peerID
	})
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) LoadGroupMessages(ctx context.Context, groupID string) error {
	s.setLoading(&s.loadingMessages, true)
	defer s.setLoading(&s.loadingMessages, false)

	msgs, err := s.backend.GroupMessages(ctx, groupID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.replaceMessagesLocked(msgs, func(m model.Message) bool {
		return m.GroupID == groupID
	})
	s.mu.Unlock()
	s.notify()
	return nil
}

// replaceMessagesLocked installs the server list, retaining unconfirmed
// local entries for the same conversation that the server does not know yet.
func (s *Store) replaceMessagesLocked(serverMsgs []model.Message, sameConv func(model.Message) bool) {
	known := make(map[string]bool, len(serverMsgs)*2)
	for _, m := range serverMsgs {
		if m.ID != "" {
			known[m.ID] = true
		}
		if m.CorrelationID != "" {
			known[m.CorrelationID] = true
		}
	}

	var retained []model.Message
	for _, m := range s.messages {
		if m.State == model.Confirmed || !sameConv(m) {
			continue
		}
		if (m.ID != "" && known[m.ID]) || (m.CorrelationID != "" && known[m.CorrelationID]) {
			continue
		}
		retained = append(retained, m)
	}

	list := make([]model.Message, 0, len(serverMsgs)+len(retained))
	for _, m := range serverMsgs {
		m.State = model.Confirmed
		m.Seq = s.nextSeqLocked()
		list = append(list, m)
	}
	list = append(list, retained...)
	s.messages = list
}

// Send appends an optimistic placeholder for the active direct conversation,
// then issues the backend call. On success the placeholder is replaced
// in-place, matched by correlation id; on failure it transitions to Failed
// rather than staying indistinguishable from still-sending.
func (s *Store) Send(ctx context.Context, draft model.Draft) error {
	return s.send(ctx, draft, model.SelectDirect)
}

// SendGroup runs the same optimistic algorithm scoped to the active group.
// Direct and group sends share one reconciliation path.
func (s *Store) SendGroup(ctx context.Context, draft model.Draft) error {
	return s.send(ctx, draft, model.SelectGroup)
}

func (s *Store) send(ctx context.Context, draft model.Draft, kind model.SelectionKind) error {
	if draft.Empty() {
		return ErrEmptyDraft
	}

	s.mu.Lock()
	if s.selection.Kind != kind {
		s.mu.Unlock()
		return ErrNoSelection
	}
	target := s.selection.ID
	placeholder := model.Message{
		CorrelationID: uuid.NewString(),
		SenderID:      s.selfID,
		Text:          draft.Text,
		ImageURL:      draft.ImageURL,
		AudioURL:      draft.AudioURL,
		DocumentURL:   draft.DocumentURL,
		CreatedAt:     time.Now(),
		State:         model.Pending,
		Seq:           s.nextSeqLocked(),
	}
	if kind == model.SelectDirect {
		placeholder.RecipientID = target
	} else {
		placeholder.GroupID = target
	}
	s.messages = append(s.messages, placeholder)
	s.mu.Unlock()
	s.notify()

	var confirmed model.Message
	var err error
	if kind == model.SelectDirect {
		confirmed, err = s.backend.SendDirect(ctx, target, placeholder)
	} else {
		confirmed, err = s.backend.SendGroup(ctx, target, placeholder)
	}
	if err != nil {
		s.markFailed(placeholder.CorrelationID, err)
		return err
	}

	s.reconcile(placeholder.CorrelationID, confirmed)
	return nil
}

// reconcile replaces the placeholder identified by corr with the confirmed
// server message, preserving the placeholder's client sequence so the entry
// does not jump in display order. If the placeholder is gone (the list was
// replaced meanwhile) the confirmed message is appended unless the server
// copy is already present.
func (s *Store) reconcile(corr string, confirmed model.Message) {
	s.mu.Lock()
	confirmed.State = model.Confirmed
	if confirmed.CorrelationID == "" {
		confirmed.CorrelationID = corr
	}

	replaced := false
	for i := range s.messages {
		if s.messages[i].CorrelationID == corr {
			confirmed.Seq = s.messages[i].Seq
			s.messages[i] = confirmed
			replaced = true
			break
		}
	}
	if !replaced && !s.containsLocked(confirmed) {
		confirmed.Seq = s.nextSeqLocked()
		s.messages = append(s.messages, confirmed)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) markFailed(corr string, cause error) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].CorrelationID == corr {
			s.messages[i].State = model.Failed
			s.messages[i].FailReason = cause.Error()
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) containsLocked(m model.Message) bool {
	for i := range s.messages {
		if m.ID != "" && s.messages[i].ID == m.ID {
			return true
		}
		if m.CorrelationID != "" && s.messages[i].CorrelationID == m.CorrelationID {
			return true
		}
	}
	return false
}

// ApplyInbound is the event bridge's entry point for pushed messages. Events
// outside the active conversation are dropped; a push racing the HTTP
// confirmation of our own send reconciles against the placeholder instead of
// duplicating it.
func (s *Store) ApplyInbound(m model.Message) {
	s.mu.Lock()
	sel := s.selection
	inScope := false
	switch {
	case m.GroupID != "":
		inScope = sel.Kind == model.SelectGroup && sel.ID == m.GroupID
	default:
		inScope = sel.Kind == model.SelectDirect && sel.ID == m.SenderID
	}
	if !inScope {
		s.mu.Unlock()
		debug.Log("state: dropping out-of-scope inbound message %s", m.ID)
		return
	}

	if m.CorrelationID != "" {
		for i := range s.messages {
			if s.messages[i].CorrelationID == m.CorrelationID {
				m.State = model.Confirmed
				m.Seq = s.messages[i].Seq
				s.messages[i] = m
				s.mu.Unlock()
				s.notify()
				return
			}
		}
	}
	if s.containsLocked(m) {
		s.mu.Unlock()
		return
	}

	m.State = model.Confirmed
	m.Seq = s.nextSeqLocked()
	s.messages = append(s.messages, m)
	s.mu.Unlock()
	s.notify()
}

// DeleteConversation removes a direct conversation server-side, drops the
// local view, and refreshes the correspondent list so the stale preview
// disappears.
func (s *Store) DeleteConversation(ctx context.Context, peerID string) error {
	if err := s.backend.DeleteConversation(ctx, peerID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.selection.Kind == model.SelectDirect && s.selection.ID == peerID {
		s.selection = model.Selection{}
	}
	s.messages = nil
	for i := range s.users {
		if s.users[i].ID == peerID {
			s.users[i].LastPreview = ""
		}
	}
	s.mu.Unlock()
	s.notify()

	return s.LoadCorrespondents(ctx)
}

func (s *Store) MarkSeen(ctx context.Context, userID string) error {
	if err := s.backend.MarkSeen(ctx, userID); err != nil {
		return err
	}
	s.setUnread(userID, false)
	return nil
}

func (s *Store) MarkUnread(ctx context.Context, userID string) error {
	if err := s.backend.MarkUnread(ctx, userID); err != nil {
		return err
	}
	s.setUnread(userID, true)
	return nil
}

func (s *Store) setUnread(userID string, unread bool) {
	s.mu.Lock()
	for i := range s.users {
		if s.users[i].ID == userID {
			s.users[i].Unread = unread
		}
	}
	s.mu.Unlock()
	s.notify()
}

// --- Groups ---

func (s *Store) LoadGroups(ctx context.Context) error {
	s.setLoading(&s.loadingGroups, true)
	defer s.setLoading(&s.loadingGroups, false)

	groups, err := s.backend.Groups(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.groups = groups
	s.mu.Unlock()
	s.notify()
	return nil
}

// CreateGroup validates locally before any network call: an empty name or
// fewer than two invited members never reaches the backend.
func (s *Store) CreateGroup(ctx context.Context, name string, memberIDs []string) error {
	if name == "" {
		return ErrGroupName
	}
	if len(memberIDs) < 2 {
		return ErrGroupMembers
	}

	g, err := s.backend.CreateGroup(ctx, name, memberIDs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.groups = append(s.groups, g)
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	u, err := s.backend.AddGroupMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	s.patchGroup(groupID, func(g *model.Group) {
		g.Members = append(g.Members, model.GroupMember{User: u, MemberRole: "member"})
	})
	return nil
}

func (s *Store) RenameGroup(ctx context.Context, groupID, name string) error {
	if name == "" {
		return ErrGroupName
	}
	if err := s.backend.RenameGroup(ctx, groupID, name); err != nil {
		return err
	}
	s.patchGroup(groupID, func(g *model.Group) { g.Name = name })
	return nil
}

func (s *Store) UpdateGroupAvatar(ctx context.Context, groupID, avatarURL string) error {
	updated, err := s.backend.UpdateGroupAvatar(ctx, groupID, avatarURL)
	if err != nil {
		return err
	}
	s.patchGroup(groupID, func(g *model.Group) {
		if updated.AvatarURL != "" {
			g.AvatarURL = updated.AvatarURL
		}
	})
	return nil
}

func (s *Store) LeaveGroup(ctx context.Context, groupID string) error {
	if err := s.backend.LeaveGroup(ctx, groupID); err != nil {
		return err
	}

	s.mu.Lock()
	kept := s.groups[:0:0]
	for _, g := range s.groups {
		if g.ID != groupID {
			kept = append(kept, g)
		}
	}
	s.groups = kept
	if s.selection.Kind == model.SelectGroup && s.selection.ID == groupID {
		s.selection = model.Selection{}
		s.messages = nil
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// patchGroup applies fn to the matching group in the list and, implicitly,
// to the active selection: selection holds only the id, so readers resolving
// it through Groups() always see the patched object.
func (s *Store) patchGroup(groupID string, fn func(*model.Group)) {
	s.mu.Lock()
	for i := range s.groups {
		if s.groups[i].ID == groupID {
			fn(&s.groups[i])
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

// --- Tips ---

// SaveTip persists a tip record after external payment confirmation. A
// transaction id that has already been recorded is a no-op, so a double
// submit cannot create a duplicate.
func (s *Store) SaveTip(ctx context.Context, tip model.Tip) error {
	s.mu.Lock()
	if _, done := s.tips[tip.TransactionID]; done {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.backend.SaveTip(ctx, tip); err != nil {
		return err
	}

	s.mu.Lock()
	s.tips[tip.TransactionID] = tip
	s.mu.Unlock()
	return nil
}

// --- internals ---

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

func (s *Store) setLoading(flag *bool, v bool) {
	s.mu.Lock()
	*flag = v
	s.mu.Unlock()
	s.notify()
}
