// Package identity talks to the external account provider that owns login
// credentials. The school board keeps profiles; the provider keeps passwords.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

type Account struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
	Password    string `json:"password,omitempty"`
}

type Provider interface {
	CreateAccount(ctx context.Context, account Account) error
	UpdateAccount(ctx context.Context, account Account) error
	DeleteAccount(ctx context.Context, userID string) error
}

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Status int
	Code   string
}

func (e *ProviderError) Error() string {
	return e.Code
}

type HTTPProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPProvider calls baseURL with token as a bearer credential.
func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) CreateAccount(ctx context.Context, account Account) error {
	return p.do(ctx, http.MethodPost, "/accounts", account, "account_create_failed")
}

func (p *HTTPProvider) UpdateAccount(ctx context.Context, account Account) error {
	return p.do(ctx, http.MethodPatch, "/accounts/"+account.UserID, account, "account_update_failed")
}

func (p *HTTPProvider) DeleteAccount(ctx context.Context, userID string) error {
	return p.do(ctx, http.MethodDelete, "/accounts/"+userID, nil, "account_delete_failed")
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, fallback string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errorFromResponse(resp, fallback)
}

func errorFromResponse(resp *http.Response, fallback string) error {
	code := fallback
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		code = payload.Error
	}
	return &ProviderError{Status: resp.StatusCode, Code: code}
}

// NopProvider accepts every call. It is used when no provider is configured.
type NopProvider struct{}

func (NopProvider) CreateAccount(context.Context, Account) error { return nil }
func (NopProvider) UpdateAccount(context.Context, Account) error { return nil }
func (NopProvider) DeleteAccount(context.Context, string) error  { return nil }
