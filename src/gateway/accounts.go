// Package gateway talks to the external Accounts API that owns accounts,
// password credentials, login tokens and platform settings.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/rs/zerolog"
)

// Config holds the Accounts API location and the service credentials used for basic auth.
type Config struct {
	BaseURL   string
	AccessKey string
	SecretKey string
}

// AccountsClient issues single attempt calls against the Accounts API. It keeps
// no state besides its configuration and never caches responses.
type AccountsClient struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
}

func NewAccountsClient(config Config, httpClient *http.Client) *AccountsClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &AccountsClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		accessKey:  config.AccessKey,
		secretKey:  config.SecretKey,
		httpClient: httpClient,
	}
}

func (c *AccountsClient) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "accounts-client").Logger()
	return &l
}

// CreateAccount creates a user account named name.
func (c *AccountsClient) CreateAccount(ctx context.Context, name string) (*domain.Account, error) {
	body := domain.Account{Type: "user", Name: name}

	var account domain.Account
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/account", body, &account); err != nil {
		return nil, err
	}

	return &account, nil
}

// CreatePasswordCredential attaches an email/password credential to accountID.
func (c *AccountsClient) CreatePasswordCredential(ctx context.Context, accountID, email, password string) (*domain.Credential, error) {
	body := domain.Credential{
		Type:        "password",
		PublicValue: email,
		SecretValue: password,
		AccountID:   accountID,
	}

	var credential domain.Credential
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/passwords", body, &credential); err != nil {
		return nil, err
	}

	return &credential, nil
}

// FindPasswordCredential looks up the password credential whose public value is email.
func (c *AccountsClient) FindPasswordCredential(ctx context.Context, email string) (*domain.Credential, error) {
	query := url.Values{}
	query.Set("kind", "password")
	query.Set("publicValue", email)
	query.Set("limit", "1")
	query.Set("sort", "name")

	return c.firstCredential(ctx, c.baseURL+"/credentials?"+query.Encode())
}

// FindPassword looks up the password resource of email. Unlike the generic
// credential listing it carries the changesecret action link.
func (c *AccountsClient) FindPassword(ctx context.Context, email string) (*domain.Credential, error) {
	query := url.Values{}
	query.Set("publicValue", email)

	return c.firstCredential(ctx, c.baseURL+"/passwords?"+query.Encode())
}

func (c *AccountsClient) firstCredential(ctx context.Context, endpoint string) (*domain.Credential, error) {
	var collection domain.Collection[domain.Credential]
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &collection); err != nil {
		return nil, err
	}

	if len(collection.Data) == 0 {
		return nil, domain.ErrCredentialNotFound
	}

	return &collection.Data[0], nil
}

// GetAccount reads the account with the given id.
func (c *AccountsClient) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/accounts/"+url.PathEscape(id), nil, &account); err != nil {
		return nil, err
	}

	if account.Type != "account" {
		return nil, fmt.Errorf("%w: resource type %q", domain.ErrAccountNotFound, account.Type)
	}

	return &account, nil
}

// ChangeSecret replaces the secret of credential through its changesecret action.
func (c *AccountsClient) ChangeSecret(ctx context.Context, credential *domain.Credential, newSecret string) error {
	actionURL := credential.ChangeSecretURL()
	if actionURL == "" {
		return &domain.GatewayError{
			Method: http.MethodPost,
			URL:    "changesecret",
			Err:    fmt.Errorf("credential %q has no changesecret action", credential.ID),
		}
	}

	body := map[string]string{
		"newSecret": newSecret,
		"oldSecret": "",
	}

	return c.do(ctx, http.MethodPost, actionURL, body, nil)
}

// GetSetting reads a platform setting.
func (c *AccountsClient) GetSetting(ctx context.Context, key string) (*domain.Setting, error) {
	var setting domain.Setting
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/settings/"+url.PathEscape(key), nil, &setting); err != nil {
		return nil, err
	}

	return &setting, nil
}

// Login exchanges end user credentials for a session token. It is the only
// call made without the service credentials. A non-2xx answer is returned as
// *domain.LoginError holding the downstream status and body untouched.
func (c *AccountsClient) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	body := map[string]string{
		"code": username + ":" + password,
	}

	endpoint := c.baseURL + "/token"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger(ctx).Error().Err(err).Str("url", endpoint).Msg("login request failed")
		return nil, &domain.GatewayError{Method: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.GatewayError{Method: http.MethodPost, URL: endpoint, Status: resp.StatusCode, Err: err}
	}

	if !isSuccess(resp.StatusCode) {
		return nil, &domain.LoginError{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        raw,
		}
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, &domain.GatewayError{Method: http.MethodPost, URL: endpoint, Status: resp.StatusCode, Body: raw, Err: err}
	}

	return &session, nil
}

func (c *AccountsClient) newRequest(ctx context.Context, method, endpoint string, in interface{}) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &domain.GatewayError{Method: method, URL: endpoint, Err: err}
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// do performs one authenticated round trip and decodes a 2xx body into out.
func (c *AccountsClient) do(ctx context.Context, method, endpoint string, in, out interface{}) error {
	req, err := c.newRequest(ctx, method, endpoint, in)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger(ctx).Error().Err(err).Str("method", method).Str("url", endpoint).Msg("accounts api request failed")
		return &domain.GatewayError{Method: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.GatewayError{Method: method, URL: endpoint, Status: resp.StatusCode, Err: err}
	}

	if !isSuccess(resp.StatusCode) {
		c.logger(ctx).Error().
			Str("method", method).
			Str("url", endpoint).
			Int("status", resp.StatusCode).
			Msg("accounts api returned an error")
		return &domain.GatewayError{Method: method, URL: endpoint, Status: resp.StatusCode, Body: raw}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.GatewayError{Method: method, URL: endpoint, Status: resp.StatusCode, Body: raw, Err: err}
	}

	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
