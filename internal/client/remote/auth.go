package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/models"
)

// AuthClient calls the account endpoints of the API server.
type AuthClient struct {
	client  *http.Client
	baseURL string
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewAuthClient creates an AuthClient. A nil client selects one with DefaultTimeout.
func NewAuthClient(client *http.Client, baseURL string) *AuthClient {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &AuthClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Register creates an account and returns the session it opens.
func (c *AuthClient) Register(ctx context.Context, email, password string) (*models.Session, error) {
	if err := models.ValidateCredentials(email, password); err != nil {
		return nil, err
	}
	return c.authenticate(ctx, "/v1/auth/register", email, password, http.StatusCreated)
}

// Login exchanges credentials for a session.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*models.Session, error) {
	if email == "" || password == "" {
		return nil, apperr.Invalid("credentials", "email and password are required")
	}
	sess, err := c.authenticate(ctx, "/v1/auth/login", email, password, http.StatusOK)
	if errors.Is(err, apperr.ErrAuthentication) {
		return nil, apperr.ErrInvalidCredentials
	}
	return sess, err
}

// RequestPasswordReset asks the server to start a reset for email. The server
// answers the same way whether or not the account exists.
func (c *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	body, _ := json.Marshal(map[string]string{"email": email})
	resp, err := c.send(ctx, http.MethodPost, "/v1/auth/password-reset", body, "", "password reset")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "password reset", http.StatusNoContent, http.StatusAccepted, http.StatusOK)
}

// DeleteAccount removes the account behind sess together with its server-side rows.
func (c *AuthClient) DeleteAccount(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.Token == "" {
		return apperr.ErrAuthentication
	}
	resp, err := c.send(ctx, http.MethodDelete, "/v1/auth/account", nil, sess.Token, "delete account")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "delete account", http.StatusNoContent, http.StatusOK)
}

func (c *AuthClient) authenticate(ctx context.Context, path, email, password string, want int) (*models.Session, error) {
	body, err := json.Marshal(credentials{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, path, body, "", "authenticate")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "authenticate", want); err != nil {
		return nil, err
	}

	var res models.AuthResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if res.Token == "" || res.User.ID == "" {
		return nil, fmt.Errorf("server returned an incomplete session")
	}
	return &models.Session{
		UserID:    res.User.ID,
		Email:     res.User.Email,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	}, nil
}

func (c *AuthClient) send(ctx context.Context, method, path string, body []byte, token, op string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &apperr.NetworkError{Op: op, Err: err}
	}
	return resp, nil
}
