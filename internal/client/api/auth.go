package api

import (
	"context"

	"github.com/wisp-chat/wisp/internal/client/model"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type ProfileUpdate struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// LoginResult is what a successful login or MFA verification yields. When the
// account has MFA enabled the first login leg returns MFARequired with no
// identity; VerifyMFA completes it.
type LoginResult struct {
	User        *model.User `json:"user,omitempty"`
	Token       string      `json:"token,omitempty"`
	MFARequired bool        `json:"mfa_required,omitempty"`
}

func (c *Client) Check(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.do(ctx, "GET", "/auth/check", nil, &u)
	return u, err
}

func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, "POST", "/auth/login", creds, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Token != "" {
		c.SetToken(res.Token)
	}
	return res, nil
}

func (c *Client) VerifyMFA(ctx context.Context, email, code string) (LoginResult, error) {
	var res LoginResult
	body := map[string]string{"email": email, "code": code}
	if err := c.do(ctx, "POST", "/auth/verify-mfa", body, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Token != "" {
		c.SetToken(res.Token)
	}
	return res, nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, "POST", "/auth/logout", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.do(ctx, "POST", "/auth/register", req, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, "POST", "/auth/forgot-password", map[string]string{"email": email}, nil)
}

func (c *Client) VerifyResetCode(ctx context.Context, email, code string) error {
	body := map[string]string{"email": email, "reset_code": code}
	return c.do(ctx, "POST", "/auth/verify-reset-code", body, nil)
}

func (c *Client) ResetPassword(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	return c.do(ctx, "POST", "/auth/reset-password", body, nil)
}

func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (model.User, error) {
	var u model.User
	err := c.do(ctx, "PUT", "/auth/update-profile", upd, &u)
	return u, err
}
