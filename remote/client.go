package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Options configures a Client.
type Options struct {
	// Timeout bounds each call made through the default public client.
	Timeout time.Duration
	// Public performs unauthenticated and explicitly authenticated calls.
	Public *http.Client
	// Authorized performs resource calls; its transport attaches credentials.
	Authorized *http.Client
	UserAgent  string
}

// Client calls the portal API. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	public     *http.Client
	authorized *http.Client
	userAgent  string
}

// New returns a client for the API rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("base url must be http or https")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Public == nil {
		opts.Public = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Authorized == nil {
		opts.Authorized = opts.Public
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "govauth"
	}
	return &Client{base: u, public: opts.Public, authorized: opts.Authorized, userAgent: opts.UserAgent}, nil
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
	TempToken     string `json:"tempToken,omitempty"`
}

// Tokens is the token pair as sent by the API.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResponse is either a full session or a two-factor challenge.
type LoginResponse struct {
	User              *session.User `json:"user,omitempty"`
	Tokens            *Tokens       `json:"tokens,omitempty"`
	RequiresTwoFactor bool          `json:"requiresTwoFactor,omitempty"`
	TempToken         string        `json:"tempToken,omitempty"`
}

// RefreshResponse is the body of a successful POST /auth/refresh. The
// refresh token is only present under rotating schemes.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Login posts credentials.
func (c *Client) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, c.public, http.MethodPost, "/auth/login", "", req, &out)
	return out, err
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResponse, error) {
	var out RefreshResponse
	err := c.do(ctx, c.public, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": refreshToken}, &out)
	if err == nil && out.AccessToken == "" {
		err = fmt.Errorf("%w: refresh response without access token", ErrDecode)
	}
	return out, err
}

// Logout notifies the server that the session ends.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, c.public, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

// Me returns the user the access token belongs to.
func (c *Client) Me(ctx context.Context, accessToken string) (session.User, error) {
	var out session.User
	err := c.do(ctx, c.public, http.MethodGet, "/auth/me", accessToken, nil, envelope("user", &out))
	if err == nil && out.ID == "" {
		err = fmt.Errorf("%w: user without id", ErrDecode)
	}
	return out, err
}

// ListRoles returns every role definition.
func (c *Client) ListRoles(ctx context.Context) ([]permission.Role, error) {
	var out []permission.Role
	err := c.do(ctx, c.authorized, http.MethodGet, "/roles", "", nil, envelope("roles", &out))
	return out, err
}

// CreateRole creates a role and returns the server's copy.
func (c *Client) CreateRole(ctx context.Context, role permission.Role) (permission.Role, error) {
	var out permission.Role
	err := c.do(ctx, c.authorized, http.MethodPost, "/roles", "", role, envelope("role", &out))
	return out, err
}

// UpdateRole replaces the mutable fields of a role.
func (c *Client) UpdateRole(ctx context.Context, role permission.Role) (permission.Role, error) {
	var out permission.Role
	err := c.do(ctx, c.authorized, http.MethodPut, "/roles/"+url.PathEscape(role.ID), "", role, envelope("role", &out))
	return out, err
}

// DeleteRole removes a role.
func (c *Client) DeleteRole(ctx context.Context, roleID string) error {
	return c.do(ctx, c.authorized, http.MethodDelete, "/roles/"+url.PathEscape(roleID), "", nil, nil)
}

// GrantRolePermissions adds permissions to a role.
func (c *Client) GrantRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	body := map[string][]string{"permissionIds": permissionIDs}
	return c.do(ctx, c.authorized, http.MethodPost, "/roles/"+url.PathEscape(roleID)+"/permissions", "", body, nil)
}

// RevokeRolePermission removes one permission from a role.
func (c *Client) RevokeRolePermission(ctx context.Context, roleID, permissionID string) error {
	path := "/roles/" + url.PathEscape(roleID) + "/permissions/" + url.PathEscape(permissionID)
	return c.do(ctx, c.authorized, http.MethodDelete, path, "", nil, nil)
}

// PermissionCatalog returns the catalog grouped by resource.
func (c *Client) PermissionCatalog(ctx context.Context) (map[string][]permission.Permission, error) {
	var out map[string][]permission.Permission
	err := c.do(ctx, c.authorized, http.MethodGet, "/user-permissions/permissions", "", nil, envelope("permissions", &out))
	return out, err
}

// UserRoles returns the role assignments of a user, expired ones included.
func (c *Client) UserRoles(ctx context.Context, userID string) ([]permission.Assignment, error) {
	var out []permission.Assignment
	err := c.do(ctx, c.authorized, http.MethodGet, userRolesPath(userID), "", nil, envelope("roles", &out))
	return out, err
}

// AssignUserRoles assigns roles to a user with an audit reason.
func (c *Client) AssignUserRoles(ctx context.Context, userID string, roleIDs []string, reason string) error {
	body := struct {
		RoleIDs []string `json:"roleIds"`
		Reason  string   `json:"reason"`
	}{roleIDs, reason}
	return c.do(ctx, c.authorized, http.MethodPost, userRolesPath(userID), "", body, nil)
}

// RevokeUserRole removes one role from a user with an audit reason.
func (c *Client) RevokeUserRole(ctx context.Context, userID, roleID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, c.authorized, http.MethodDelete, userRolesPath(userID)+"/"+url.PathEscape(roleID), "", body, nil)
}

func userRolesPath(userID string) string {
	return "/user-permissions/users/" + url.PathEscape(userID) + "/roles"
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path, bearer string, in, out any) error {
	var body io.Reader
	var raw []byte
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		raw = data
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if d, ok := out.(*enveloped); ok {
		return d.decode(data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// enveloped decodes a payload that is either bare or wrapped in an object
// under key (or "data").
type enveloped struct {
	key string
	out any
}

func envelope(key string, out any) *enveloped {
	return &enveloped{key: key, out: out}
}

func (e *enveloped) decode(data []byte) error {
	data = bytes.TrimSpace(data)
	if data[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrDecode, err)
		}
		for _, k := range []string{e.key, "data"} {
			if inner, ok := obj[k]; ok {
				data = inner
				break
			}
		}
	}
	if err := json.Unmarshal(data, e.out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}
