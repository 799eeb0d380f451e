package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ladder_bot/internal/exchange"
	"ladder_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://www.okx.com"

type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.APISecret == "" || c.Passphrase == ""
}

// Client is one authenticated OKX account. It implements exchange.AccountClient.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	simulated bool
	account   models.Account
	now       func() time.Time
}

func NewClient(account models.Account, baseURL string, creds Credentials, simulated bool) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:      &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    creds.APIKey,
		apiSecret: creds.APISecret,
		passph:    creds.Passphrase,
		simulated: simulated,
		account:   account,
		now:       time.Now,
	}
}

var _ exchange.AccountClient = (*Client)(nil)

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// envelope is the common OKX response wrapper.
type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e envelope) status() (string, string) { return e.Code, e.Msg }

type statuser interface{ status() (string, string) }

// okxError maps an OKX response code to the gateway error taxonomy.
func okxError(op, code, msg string) error {
	switch code {
	case "0":
		return nil
	case "50011", "50061":
		return errors.Wrapf(exchange.ErrRateLimited, "%s: code=%s msg=%s", op, code, msg)
	case "50001", "50004", "50013", "50026":
		return errors.Errorf("%s: okx busy code=%s msg=%s", op, code, msg)
	}
	return errors.Wrapf(exchange.ErrPermanent, "%s: code=%s msg=%s", op, code, msg)
}

// call performs one signed request and decodes the body into out. Public
// endpoints are signed too; OKX ignores the headers there.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := sonic.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "%s marshal", op)
		}
		payload = b
	}

	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "%s new request", op)
	}
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s do", op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "%s read body", op)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrapf(exchange.ErrRateLimited, "%s http 429", op)
	case resp.StatusCode >= 500:
		return errors.Errorf("%s http %d: %s", op, resp.StatusCode, string(data))
	case resp.StatusCode/100 != 2:
		var env envelope
		if sonic.Unmarshal(data, &env) == nil && env.Code != "" {
			return okxError(op, env.Code, env.Msg)
		}
		return errors.Wrapf(exchange.ErrPermanent, "%s http %d: %s", op, resp.StatusCode, string(data))
	}

	if err := sonic.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "%s decode; body=%s", op, string(data))
	}
	if s, ok := out.(statuser); ok {
		code, msg := s.status()
		return okxError(op, code, msg)
	}
	return nil
}
