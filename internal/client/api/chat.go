package api

import (
	"context"

	"github.com/wisp-chat/wisp/internal/client/model"
)

// Correspondents lists the users the authenticated user can chat with.
func (c *Client) Correspondents(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := c.do(ctx, "GET", "/messages/users", nil, &users)
	return users, err
}

func (c *Client) BlockedUsers(ctx context.Context) ([]model.User, error) {
	var res struct {
		BlockedUsers []model.User `json:"blocked_users"`
	}
	err := c.do(ctx, "GET", "/messages/users/blocked", nil, &res)
	return res.BlockedUsers, err
}

func (c *Client) Messages(ctx context.Context, peerID string) ([]model.Message, error) {
	var msgs []model.Message
	err := c.do(ctx, "GET", "/messages/"+peerID, nil, &msgs)
	return msgs, err
}

// SendDirect posts an outgoing message. The server echoes the correlation id
// back on the confirmed message so the caller can reconcile its placeholder.
func (c *Client) SendDirect(ctx context.Context, peerID string, msg model.Message) (model.Message, error) {
	var confirmed model.Message
	err := c.do(ctx, "POST", "/messages/send/"+peerID, msg, &confirmed)
	return confirmed, err
}

func (c *Client) DeleteConversation(ctx context.Context, peerID string) error {
	return c.do(ctx, "DELETE", "/messages/delete/"+peerID, nil, nil)
}

func (c *Client) Block(ctx context.Context, userID string) error {
	return c.do(ctx, "POST", "/messages/users/block/"+userID, nil, nil)
}

func (c *Client) Unblock(ctx context.Context, userID string) (model.User, error) {
	var res struct {
		UnblockedUser model.User `json:"unblocked_user"`
	}
	err := c.do(ctx, "POST", "/messages/users/unblock/"+userID, nil, &res)
	return res.UnblockedUser, err
}

func (c *Client) MarkSeen(ctx context.Context, senderID string) error {
	return c.do(ctx, "POST", "/messages/mark-seen", map[string]string{"sender_id": senderID}, nil)
}

func (c *Client) MarkUnread(ctx context.Context, userID string) error {
	return c.do(ctx, "POST", "/messages/mark-unread/"+userID, nil, nil)
}

// Groups

func (c *Client) Groups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	err := c.do(ctx, "GET", "/groups", nil, &groups)
	return groups, err
}

func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (model.Group, error) {
	var res struct {
		Group model.Group `json:"group"`
	}
	body := map[string]interface{}{"name": name, "member_ids": memberIDs}
	err := c.do(ctx, "POST", "/groups/create", body, &res)
	return res.Group, err
}

func (c *Client) GroupMessages(ctx context.Context, groupID string) ([]model.Message, error) {
	var res struct {
		Messages []model.Message `json:"messages"`
	}
	err := c.do(ctx, "GET", "/groups/messages/"+groupID, nil, &res)
	return res.Messages, err
}

func (c *Client) SendGroup(ctx context.Context, groupID string, msg model.Message) (model.Message, error) {
	var res struct {
		Message model.Message `json:"message"`
	}
	err := c.do(ctx, "POST", "/groups/messages/"+groupID, msg, &res)
	return res.Message, err
}

func (c *Client) RenameGroup(ctx context.Context, groupID, name string) error {
	return c.do(ctx, "PUT", "/groups/update-group-name/"+groupID, map[string]string{"name": name}, nil)
}

func (c *Client) UpdateGroupAvatar(ctx context.Context, groupID, avatarURL string) (model.Group, error) {
	var g model.Group
	body := map[string]string{"avatar_url": avatarURL}
	err := c.do(ctx, "PUT", "/groups/update-group-profile/"+groupID, body, &g)
	return g, err
}

func (c *Client) AddGroupMember(ctx context.Context, groupID, userID string) (model.User, error) {
	var res struct {
		User model.User `json:"user"`
	}
	err := c.do(ctx, "POST", "/groups/add-user/"+groupID, map[string]string{"user_id": userID}, &res)
	return res.User, err
}

func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.do(ctx, "POST", "/groups/leave/"+groupID, nil, nil)
}

// Tips

// CreateTipIntent asks the backend for a payment intent id. The provider
// only confirms intents the backend issued.
func (c *Client) CreateTipIntent(ctx context.Context, receiverID string, amount float64) (string, error) {
	body := map[string]interface{}{"receiver_id": receiverID, "amount": amount}
	var res struct {
		IntentID string `json:"intent_id"`
	}
	if err := c.do(ctx, "POST", "/tips/intent", body, &res); err != nil {
		return "", err
	}
	return res.IntentID, nil
}

// SaveTip records a tip after the payment provider has confirmed the charge.
// The backend treats transaction_id as an idempotency key.
func (c *Client) SaveTip(ctx context.Context, tip model.Tip) error {
	return c.do(ctx, "POST", "/tips", tip, nil)
}
