package lrm

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// NoExpiry is the auth_expire value of a lifetime user
const NoExpiry int64 = -1

// User is one license record held by the licensing API
type User struct {
	UserKey    string `json:"user_key"`
	DiscordID  string `json:"discord_id"`
	Identifier string `json:"identifier,omitempty"`
	// AuthExpire is a unix timestamp in seconds, NoExpiry for lifetime.
	AuthExpire  int64  `json:"auth_expire"`
	Banned      int    `json:"banned"`
	BanReason   string `json:"ban_reason,omitempty"`
	Status      string `json:"status"`
	Note        string `json:"note"`
	TotalResets int    `json:"total_resets"`
}

// IsBanned reports the banned flag
func (u User) IsBanned() bool {
	return u.Banned != 0
}

// Lifetime reports whether the record never expires
func (u User) Lifetime() bool {
	return u.AuthExpire == NoExpiry
}

// CreateUserRequest is the body of a user creation
type CreateUserRequest struct {
	DiscordID  string `json:"discord_id"`
	AuthExpire int64  `json:"auth_expire"`
	Note       string `json:"note,omitempty"`
}

// UpdateUserRequest is the body of a user update; UserKey selects the record
type UpdateUserRequest struct {
	UserKey    string `json:"user_key"`
	DiscordID  string `json:"discord_id,omitempty"`
	AuthExpire int64  `json:"auth_expire"`
	Note       string `json:"note,omitempty"`
}

type usersResponse struct {
	Users []User `json:"users"`
}

type createUserResponse struct {
	UserKey string `json:"user_key"`
}

// ListUsers returns the users in the half-open window [from, until)
func (c *Client) ListUsers(ctx context.Context, from, until int) ([]User, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	q.Set("until", strconv.Itoa(until))

	var resp usersResponse
	if err := c.do(ctx, "list_users", http.MethodGet, c.usersURL("", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// GetUsersByDiscordID returns every record linked to discordID
func (c *Client) GetUsersByDiscordID(ctx context.Context, discordID string) ([]User, error) {
	q := url.Values{}
	q.Set("discord_id", discordID)

	var resp usersResponse
	if err := c.do(ctx, "get_user", http.MethodGet, c.usersURL("", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// CreateUser creates a record and returns its user_key
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (string, error) {
	var resp createUserResponse
	if err := c.do(ctx, "create_user", http.MethodPost, c.usersURL("", nil), req, &resp); err != nil {
		return "", err
	}
	return resp.UserKey, nil
}

// UpdateUser patches an existing record
func (c *Client) UpdateUser(ctx context.Context, req UpdateUserRequest) error {
	return c.do(ctx, "update_user", http.MethodPatch, c.usersURL("", nil), req, nil)
}

// DeleteUser removes a record by user_key
func (c *Client) DeleteUser(ctx context.Context, userKey string) error {
	q := url.Values{}
	q.Set("user_key", userKey)
	return c.do(ctx, "delete_user", http.MethodDelete, c.usersURL("", q), nil, nil)
}

// ResetHWID clears the hardware binding of a record
func (c *Client) ResetHWID(ctx context.Context, userKey string) error {
	body := map[string]interface{}{"user_key": userKey, "force": true}
	return c.do(ctx, "reset_hwid", http.MethodPost, c.usersURL("/resethwid", nil), body, nil)
}
