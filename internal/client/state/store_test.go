package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wisp-chat/wisp/internal/client/model"
)

// fakeBackend is a scriptable in-memory stand-in for the REST client.
type fakeBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	users   []model.User
	blocked []model.User
	groups  []model.Group
	msgs    map[string][]model.Message // keyed by peer or group id
	sendErr error
	nextID  int
	tips    []model.Tip
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls: make(map[string]int),
		msgs:  make(map[string][]model.Message),
	}
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeBackend) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) Correspondents(ctx context.Context) ([]model.User, error) {
	f.record("Correspondents")
	return append([]model.User(nil), f.users...), nil
}

func (f *fakeBackend) BlockedUsers(ctx context.Context) ([]model.User, error) {
	f.record("BlockedUsers")
	return append([]model.User(nil), f.blocked...), nil
}

func (f *fakeBackend) Messages(ctx context.Context, peerID string) ([]model.Message, error) {
	f.record("Messages")
	return append([]model.Message(nil), f.msgs[peerID]...), nil
}

func (f *fakeBackend) confirm(convID string, msg model.Message) model.Message {
	f.mu.Lock()
	f.nextID++
	msg.ID = fmt.Sprintf("m%d", f.nextID)
	f.mu.Unlock()
	msg.CreatedAt = msg.CreatedAt.Add(time.Millisecond) // canonical server time
	f.msgs[convID] = append(f.msgs[convID], msg)
	return msg
}

func (f *fakeBackend) SendDirect(ctx context.Context, peerID string, msg model.Message) (model.Message, error) {
	f.record("SendDirect")
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	return f.confirm(peerID, msg), nil
}

func (f *fakeBackend) DeleteConversation(ctx context.Context, peerID string) error {
	f.record("DeleteConversation")
	delete(f.msgs, peerID)
	return nil
}

func (f *fakeBackend) Block(ctx context.Context, userID string) error {
	f.record("Block")
	for i, u := range f.users {
		if u.ID == userID {
			f.blocked = append(f.blocked, u)
			f.users = append(f.users[:i], f.users[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) Unblock(ctx context.Context, userID string) (model.User, error) {
	f.record("Unblock")
	for i, u := range f.blocked {
		if u.ID == userID {
			f.blocked = append(f.blocked[:i], f.blocked[i+1:]...)
			f.users = append(f.users, u)
			return u, nil
		}
	}
	return model.User{}, errors.New("not blocked")
}

func (f *fakeBackend) MarkSeen(ctx context.Context, senderID string) error {
	f.record("MarkSeen")
	return nil
}

func (f *fakeBackend) MarkUnread(ctx context.Context, userID string) error {
	f.record("MarkUnread")
	return nil
}

func (f *fakeBackend) Groups(ctx context.Context) ([]model.Group, error) {
	f.record("Groups")
	return append([]model.Group(nil), f.groups...), nil
}

func (f *fakeBackend) CreateGroup(ctx context.Context, name string, memberIDs []string) (model.Group, error) {
	f.record("CreateGroup")
	g := model.Group{ID: fmt.Sprintf("g%d", len(f.groups)+1), Name: name, CreatorID: "self"}
	g.Members = append(g.Members, model.GroupMember{User: model.User{ID: "self"}, MemberRole: "admin"})
	for _, id := range memberIDs {
		g.Members = append(g.Members, model.GroupMember{User: model.User{ID: id}, MemberRole: "member"})
	}
	f.groups = append(f.groups, g)
	return g, nil
}

func (f *fakeBackend) GroupMessages(ctx context.Context, groupID string) ([]model.Message, error) {
	f.record("GroupMessages")
	return append([]model.Message(nil), f.msgs[groupID]...), nil
}

func (f *fakeBackend) SendGroup(ctx context.Context, groupID string, msg model.Message) (model.Message, error) {
	f.record("SendGroup")
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	return f.confirm(groupID, msg), nil
}

func (f *fakeBackend) RenameGroup(ctx context.Context, groupID, name string) error {
	f.record("RenameGroup")
	return nil
}

func (f *fakeBackend) UpdateGroupAvatar(ctx context.Context, groupID, avatarURL string) (model.Group, error) {
	f.record("UpdateGroupAvatar")
	return model.Group{ID: groupID, AvatarURL: avatarURL}, nil
}

func (f *fakeBackend) AddGroupMember(ctx context.Context, groupID, userID string) (model.User, error) {
	f.record("AddGroupMember")
	return model.User{ID: userID}, nil
}

func (f *fakeBackend) LeaveGroup(ctx context.Context, groupID string) error {
	f.record("LeaveGroup")
	return nil
}

func (f *fakeBackend) SaveTip(ctx context.Context, tip model.Tip) error {
	f.record("SaveTip")
	f.tips = append(f.tips, tip)
	return nil
}

func newStore(f *fakeBackend) *Store {
	s := New(f)
	s.SetSelf("self")
	return s
}

func TestSendOptimisticThenConfirmed(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()

	if err := s.SelectCorrespondent(ctx, "u2"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := s.Send(ctx, model.Draft{Text: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after confirmed send, got %d", len(msgs))
	}
	m := msgs[0]
	if m.ID != "m1" {
		t.Errorf("expected server id m1, got %q", m.ID)
	}
	if m.Text != "hello" {
		t.Errorf("expected text hello, got %q", m.Text)
	}
	if m.State != model.Confirmed {
		t.Errorf("expected confirmed state, got %v", m.State)
	}
}

func TestSendGrowsListByOnePerCall(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")

	for i := 0; i < 5; i++ {
		if err := s.Send(ctx, model.Draft{Text: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if got := len(s.Messages()); got != i+1 {
			t.Fatalf("after %d sends expected %d messages, got %d", i+1, i+1, got)
		}
	}
}

func TestSendFailureMarksPlaceholderFailed(t *testing.T) {
	f := newFakeBackend()
	f.sendErr = errors.New("boom")
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")

	if err := s.Send(ctx, model.Draft{Text: "hello"}); err == nil {
		t.Fatal("expected send error")
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected the placeholder to remain, got %d messages", len(msgs))
	}
	if msgs[0].State != model.Failed {
		t.Errorf("expected failed state, got %v", msgs[0].State)
	}
	if msgs[0].FailReason != "boom" {
		t.Errorf("expected failure reason boom, got %q", msgs[0].FailReason)
	}
}

func TestSendWithoutSelection(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)

	err := s.Send(context.Background(), model.Draft{Text: "hello"})
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if f.callCount("SendDirect") != 0 {
		t.Error("send without selection must not reach the backend")
	}
}

func TestGroupSendReplacesPlaceholder(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()
	s.SelectGroup("g1")

	if err := s.SendGroup(ctx, model.Draft{Text: "to the team"}); err != nil {
		t.Fatalf("send group: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("group send must replace its placeholder, got %d messages", len(msgs))
	}
	if msgs[0].State != model.Confirmed || msgs[0].ID == "" {
		t.Errorf("expected confirmed server message, got %+v", msgs[0])
	}
}

func TestReloadAfterSendNoDuplicate(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")

	if err := s.Send(ctx, model.Draft{Text: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.LoadMessages(ctx, "u2"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	msgs := s.Messages()
	count := 0
	for _, m := range msgs {
		if m.Text == "hello" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("message must appear exactly once after reload, got %d", count)
	}
}

func TestLoadMessagesRetainsUnconfirmed(t *testing.T) {
	f := newFakeBackend()
	f.sendErr = errors.New("offline")
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")

	s.Send(ctx, model.Draft{Text: "stuck"})
	f.msgs["u2"] = []model.Message{{ID: "m9", SenderID: "u2", RecipientID: "self", Text: "hi", CreatedAt: time.Now()}}

	if err := s.LoadMessages(ctx, "u2"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected server message plus retained failed send, got %d", len(msgs))
	}
}

func TestBlockedUsersNeverListed(t *testing.T) {
	f := newFakeBackend()
	f.users = []model.User{{ID: "u2"}, {ID: "u3"}}
	f.blocked = []model.User{{ID: "u4"}}
	f.msgs["u2"] = nil
	s := newStore(f)
	ctx := context.Background()

	if err := s.LoadCorrespondents(ctx); err != nil {
		t.Fatalf("load correspondents: %v", err)
	}
	for _, u := range s.Correspondents() {
		if u.ID == "u4" {
			t.Error("blocked user u4 must not appear in the correspondent list")
		}
	}
}

func TestBlockClearsSelectionAndFilters(t *testing.T) {
	f := newFakeBackend()
	f.users = []model.User{{ID: "u2"}, {ID: "u3"}}
	s := newStore(f)
	ctx := context.Background()

	s.LoadCorrespondents(ctx)
	s.SelectCorrespondent(ctx, "u2")

	if err := s.Block(ctx, "u2"); err != nil {
		t.Fatalf("block: %v", err)
	}

	if !s.Selection().None() {
		t.Error("blocking the selected correspondent must clear the selection")
	}
	for _, u := range s.Correspondents() {
		if u.ID == "u2" {
			t.Error("u2 must be absent from correspondents after blocking")
		}
	}
}

func TestUnblockRestoresUser(t *testing.T) {
	f := newFakeBackend()
	f.users = []model.User{{ID: "u2"}}
	f.blocked = []model.User{{ID: "u4", DisplayName: "Dana"}}
	s := newStore(f)
	ctx := context.Background()
	s.LoadCorrespondents(ctx)

	if err := s.Unblock(ctx, "u4"); err != nil {
		t.Fatalf("unblock: %v", err)
	}

	found := false
	for _, u := range s.Correspondents() {
		if u.ID == "u4" {
			found = true
		}
	}
	if !found {
		t.Error("unblocked user must rejoin the correspondent list")
	}
	if len(s.Blocked()) != 0 {
		t.Errorf("blocked set should be empty, got %d", len(s.Blocked()))
	}
}

func TestCreateGroupValidatesLocally(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()

	if err := s.CreateGroup(ctx, "", []string{"u2", "u3"}); !errors.Is(err, ErrGroupName) {
		t.Errorf("expected ErrGroupName, got %v", err)
	}
	if err := s.CreateGroup(ctx, "Team", []string{"u2"}); !errors.Is(err, ErrGroupMembers) {
		t.Errorf("expected ErrGroupMembers, got %v", err)
	}
	if f.callCount("CreateGroup") != 0 {
		t.Error("invalid group creation must not issue a network call")
	}
	if len(s.Groups()) != 0 {
		t.Error("invalid group creation must not mutate the group list")
	}
}

func TestCreateGroupShape(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()

	if err := s.CreateGroup(ctx, "Team", []string{"u2", "u3"}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	groups := s.Groups()
	if len(groups) != 1 {
		t.Fatalf("expected exactly one group, got %d", len(groups))
	}
	g := groups[0]
	if g.Name != "Team" {
		t.Errorf("expected name Team, got %q", g.Name)
	}
	if len(g.Members) != 3 {
		t.Fatalf("expected creator plus two members, got %d", len(g.Members))
	}
	admin := false
	for _, m := range g.Members {
		if m.MemberRole == "admin" && m.ID == "self" {
			admin = true
		}
	}
	if !admin {
		t.Error("creator must be a member with the admin role")
	}
}

func TestLeaveGroupClearsSelection(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()

	s.CreateGroup(ctx, "Team", []string{"u2", "u3"})
	g := s.Groups()[0]
	s.SelectGroup(g.ID)

	if err := s.LeaveGroup(ctx, g.ID); err != nil {
		t.Fatalf("leave group: %v", err)
	}
	if !s.Selection().None() {
		t.Error("leaving the selected group must clear the selection")
	}
	if len(s.Groups()) != 0 {
		t.Error("left group must be removed from the list")
	}
	if len(s.Messages()) != 0 {
		t.Error("leaving a group must clear its messages")
	}
}

func TestRenameGroupPatchesList(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()
	s.CreateGroup(ctx, "Team", []string{"u2", "u3"})
	g := s.Groups()[0]

	if err := s.RenameGroup(ctx, g.ID, "Core Team"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got := s.Groups()[0].Name; got != "Core Team" {
		t.Errorf("expected renamed group, got %q", got)
	}
}

func TestApplyInboundScoping(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")

	s.ApplyInbound(model.Message{ID: "x1", SenderID: "u3", Text: "wrong peer", CreatedAt: time.Now()})
	if len(s.Messages()) != 0 {
		t.Error("inbound message from a non-active correspondent must be dropped")
	}

	s.ApplyInbound(model.Message{ID: "x2", SenderID: "u2", Text: "right peer", CreatedAt: time.Now()})
	if len(s.Messages()) != 1 {
		t.Error("inbound message from the active correspondent must be appended")
	}

	// Same id again: the push/confirm race must not duplicate.
	s.ApplyInbound(model.Message{ID: "x2", SenderID: "u2", Text: "right peer", CreatedAt: time.Now()})
	if len(s.Messages()) != 1 {
		t.Error("duplicate inbound message must be suppressed")
	}
}

func TestMessagesSortedByTimestamp(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")

	base := time.Now()
	s.ApplyInbound(model.Message{ID: "b", SenderID: "u2", Text: "second", CreatedAt: base.Add(time.Second)})
	s.ApplyInbound(model.Message{ID: "a", SenderID: "u2", Text: "first", CreatedAt: base})

	msgs := s.Messages()
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("messages must sort by timestamp, got %q then %q", msgs[0].ID, msgs[1].ID)
	}
}

func TestDeleteConversation(t *testing.T) {
	f := newFakeBackend()
	f.users = []model.User{{ID: "u2", LastPreview: "bye"}}
	s := newStore(f)
	ctx := context.Background()
	s.LoadCorrespondents(ctx)
	s.SelectCorrespondent(ctx, "u2")
	s.Send(ctx, model.Draft{Text: "hello"})

	if err := s.DeleteConversation(ctx, "u2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !s.Selection().None() {
		t.Error("deleting the active conversation must clear the selection")
	}
	if len(s.Messages()) != 0 {
		t.Error("deleting the active conversation must clear the message list")
	}
}

func TestSaveTipIdempotent(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f)
	ctx := context.Background()

	tip := model.Tip{Amount: 50, TipperID: "self", ReceiverID: "u2", MessageID: "m1", TransactionID: "t1"}
	if err := s.SaveTip(ctx, tip); err != nil {
		t.Fatalf("save tip: %v", err)
	}
	if err := s.SaveTip(ctx, tip); err != nil {
		t.Fatalf("second save tip: %v", err)
	}

	if f.callCount("SaveTip") != 1 {
		t.Fatalf("tip with a known transaction id must be saved exactly once, got %d calls", f.callCount("SaveTip"))
	}
}

func TestTipTargetIsNewestConfirmedPeerMessage(t *testing.T) {
	f := newFakeBackend()
	f.users = []model.User{{ID: "u2"}}
	base := time.Now()
	f.msgs["u2"] = []model.Message{
		{ID: "a1", SenderID: "u2", RecipientID: "self", Text: "old", CreatedAt: base},
		{ID: "a2", SenderID: "self", RecipientID: "u2", Text: "mine", CreatedAt: base.Add(time.Second)},
		{ID: "a3", SenderID: "u2", RecipientID: "self", Text: "new", CreatedAt: base.Add(2 * time.Second)},
	}
	s := newStore(f)
	ctx := context.Background()
	s.SelectCorrespondent(ctx, "u2")
	if err := s.LoadMessages(ctx, "u2"); err != nil {
		t.Fatalf("load messages: %v", err)
	}

	got, ok := s.LatestFrom("u2")
	if !ok {
		t.Fatal("expected a tip target among the peer's messages")
	}
	if got.ID != "a3" {
		t.Fatalf("tip target = %s, want the peer's newest message a3", got.ID)
	}

	if _, ok := s.LatestFrom("u9"); ok {
		t.Error("a sender with no confirmed messages must yield no tip target")
	}
}

func TestResetClearsEverything(t *testing.T) {
	f := newFakeBackend()
	f.users = []model.User{{ID: "u2"}}
	s := newStore(f)
	ctx := context.Background()
	s.LoadCorrespondents(ctx)
	s.SelectCorrespondent(ctx, "u2")
	s.Send(ctx, model.Draft{Text: "hello"})

	s.Reset()

	if len(s.Correspondents()) != 0 || len(s.Messages()) != 0 || !s.Selection().None() {
		t.Error("reset must drop correspondents, messages and selection")
	}
}
