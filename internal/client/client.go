// Package client implements the GophAuth command-line client: an HTTP API
// client for the local server and an interactive shell on top of it.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/GophAuth/internal/certgen"
	"github.com/atinyakov/GophAuth/internal/lock"
	"github.com/atinyakov/GophAuth/internal/models"
	api "github.com/atinyakov/GophAuth/internal/server/handler/http"
	"github.com/atinyakov/GophAuth/internal/service"
	"github.com/atinyakov/GophAuth/internal/settings"
)

const requestTimeout = 30 * time.Second

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Client talks to the GophAuth API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client for baseURL. When caFile is set, https connections
// trust only the certificates it holds.
func New(baseURL, caFile string) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caFile != "" {
		pool, err := certgen.LoadCertPool(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load CA cert: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return NewWithHTTPClient(baseURL, &http.Client{Transport: transport, Timeout: requestTimeout}), nil
}

// NewWithHTTPClient returns a Client using hc for every request.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Status returns the lock status.
func (c *Client) Status(ctx context.Context) (lock.Status, error) {
	var st lock.Status
	err := c.do(ctx, http.MethodGet, "/api/lock", nil, &st)
	return st, err
}

// Lock locks the app.
func (c *Client) Lock(ctx context.Context) (lock.Status, error) {
	return c.lockCall(ctx, http.MethodPost, "/api/lock", nil)
}

// UnlockPin unlocks with the PIN.
func (c *Client) UnlockPin(ctx context.Context, pin string) (lock.Status, error) {
	return c.lockCall(ctx, http.MethodPost, "/api/unlock/pin", api.PinRequest{Pin: pin})
}

// UnlockBiometric asks the server to run its biometric prompt.
func (c *Client) UnlockBiometric(ctx context.Context) (lock.Status, error) {
	return c.lockCall(ctx, http.MethodPost, "/api/unlock/biometric", nil)
}

// EnablePin sets the first PIN.
func (c *Client) EnablePin(ctx context.Context, pin string) (lock.Status, error) {
	return c.lockCall(ctx, http.MethodPost, "/api/pin", api.PinRequest{Pin: pin})
}

// DisablePin removes the PIN after verifying it.
func (c *Client) DisablePin(ctx context.Context, pin string) (lock.Status, error) {
	return c.lockCall(ctx, http.MethodDelete, "/api/pin", api.PinRequest{Pin: pin})
}

// SetBiometrics turns biometric unlock on or off.
func (c *Client) SetBiometrics(ctx context.Context, on bool) (lock.Status, error) {
	method := http.MethodPost
	if !on {
		method = http.MethodDelete
	}
	return c.lockCall(ctx, method, "/api/biometrics", nil)
}

// BeginStepUp requests a step-up grant. When granted is false the app is
// locked and the next unlock issues the grant.
func (c *Client) BeginStepUp(ctx context.Context) (granted bool, st lock.Status, err error) {
	var out struct {
		Granted bool        `json:"granted"`
		Lock    lock.Status `json:"lock"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/stepup", nil, &out); err != nil {
		return false, lock.Status{}, err
	}
	return out.Granted, out.Lock, nil
}

// CancelStepUp abandons a pending step-up.
func (c *Client) CancelStepUp(ctx context.Context) (lock.Status, error) {
	return c.lockCall(ctx, http.MethodDelete, "/api/stepup", nil)
}

// Accounts lists accounts matching query. An empty mode uses the server setting.
func (c *Client) Accounts(ctx context.Context, query string, mode models.SortMode) ([]service.AccountView, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if mode != "" {
		q.Set("sort", string(mode))
	}
	path := "/api/accounts/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var views []service.AccountView
	err := c.do(ctx, http.MethodGet, path, nil, &views)
	return views, err
}

// Add adds the accounts carried by an otpauth or otpauth-migration URI.
func (c *Client) Add(ctx context.Context, text string) (service.AddResult, error) {
	var res service.AddResult
	err := c.do(ctx, http.MethodPost, "/api/accounts/", api.AddRequest{URI: text}, &res)
	return res, err
}

// Rename changes the label and issuer of an account.
func (c *Client) Rename(ctx context.Context, id, label, issuer string) (models.Account, error) {
	var acc models.Account
	err := c.do(ctx, http.MethodPatch, "/api/accounts/"+url.PathEscape(id), api.RenameRequest{Label: label, Issuer: issuer}, &acc)
	return acc, err
}

// Remove deletes an account.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/accounts/"+url.PathEscape(id), nil, nil)
}

// Code generates the current code. For HOTP accounts this advances the counter.
func (c *Client) Code(ctx context.Context, id string) (models.Code, error) {
	var code models.Code
	err := c.do(ctx, http.MethodPost, "/api/accounts/"+url.PathEscape(id)+"/code", nil, &code)
	return code, err
}

// QR returns a PNG QR code of the account's otpauth URI.
func (c *Client) QR(ctx context.Context, id string, size int) ([]byte, error) {
	path := "/api/accounts/" + url.PathEscape(id) + "/qr"
	if size > 0 {
		path += "?size=" + strconv.Itoa(size)
	}
	var png []byte
	err := c.do(ctx, http.MethodGet, path, nil, &png)
	return png, err
}

// Export returns the vault encrypted under passphrase.
func (c *Client) Export(ctx context.Context, passphrase string) ([]byte, error) {
	var res api.ExportResponse
	if err := c.do(ctx, http.MethodPost, "/api/export", api.ExportRequest{Passphrase: passphrase}, &res); err != nil {
		return nil, err
	}
	return res.Backup, nil
}

// Import restores a backup produced by Export.
func (c *Client) Import(ctx context.Context, blob []byte, passphrase string, mode service.ImportMode) (service.ImportResult, error) {
	var res service.ImportResult
	err := c.do(ctx, http.MethodPost, "/api/import", api.ImportRequest{Backup: blob, Passphrase: passphrase, Mode: mode}, &res)
	return res, err
}

// ExportMigration returns migration URIs for the whole vault. A zero
// batchSize uses the server default.
func (c *Client) ExportMigration(ctx context.Context, batchSize int) (uris []string, skipped int, err error) {
	var out struct {
		URIs    []string `json:"uris"`
		Skipped int      `json:"skipped"`
	}
	var body any
	if batchSize > 0 {
		body = api.MigrationRequest{BatchSize: batchSize}
	}
	if err := c.do(ctx, http.MethodPost, "/api/export/migration", body, &out); err != nil {
		return nil, 0, err
	}
	return out.URIs, out.Skipped, nil
}

// Settings returns the current preferences.
func (c *Client) Settings(ctx context.Context) (settings.Values, error) {
	var v settings.Values
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, &v)
	return v, err
}

// UpdateSettings changes the non-nil fields of req.
func (c *Client) UpdateSettings(ctx context.Context, req api.SettingsRequest) (settings.Values, error) {
	var v settings.Values
	err := c.do(ctx, http.MethodPatch, "/api/settings", req, &v)
	return v, err
}

func (c *Client) lockCall(ctx context.Context, method, path string, body any) (lock.Status, error) {
	var st lock.Status
	err := c.do(ctx, method, path, body, &st)
	return st, err
}

// do sends body as JSON and decodes the answer into out. A *[]byte out
// receives the raw body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*dst, err = io.ReadAll(resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}
