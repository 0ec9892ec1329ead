// Package client 带签名的 custody HTTP 客户端，custodyctl 用
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
	"gopherheir.com/internal/custody/service"
	"gopherheir.com/pkg/clock"
	"gopherheir.com/pkg/sigauth"
)

// APIError 服务端返回的业务错误
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("custody api: http %d code %d: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	base  string
	http  *http.Client
	key   *ecdsa.PrivateKey
	clock clock.Clock
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

func WithClock(clk clock.Clock) Option { return func(c *Client) { c.clock = clk } }

// New key 为 nil 时只能调匿名接口
func New(baseURL string, key *ecdsa.PrivateKey, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 10 * time.Second},
		key:   key,
		clock: clock.System(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Address 签名者地址
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

type amountReq struct {
	Amount    string `json:"amount,omitempty"`
	AmountWei string `json:"amountWei,omitempty"`
}

// Amount 以 wei 结尾的按 wei，否则按 ether
func Amount(s string) interface{} {
	if w, ok := strings.CutSuffix(s, "wei"); ok {
		return amountReq{AmountWei: strings.TrimSpace(w)}
	}
	return amountReq{Amount: s}
}

func (c *Client) CreateAccount(ctx context.Context, amount string) (service.AccountView, error) {
	var v service.AccountView
	var body interface{}
	if amount != "" {
		body = Amount(amount)
	}
	err := c.do(ctx, http.MethodPost, "/api/accounts", body, true, &v)
	return v, err
}

func (c *Client) Deposit(ctx context.Context, account common.Address, amount string) (service.AccountView, error) {
	var v service.AccountView
	err := c.do(ctx, http.MethodPost, "/api/accounts/"+account.Hex()+"/deposit", Amount(amount), c.key != nil, &v)
	return v, err
}

func (c *Client) Withdraw(ctx context.Context, account common.Address, amount string) (service.AccountView, error) {
	var v service.AccountView
	err := c.do(ctx, http.MethodPost, "/api/accounts/"+account.Hex()+"/withdraw", Amount(amount), true, &v)
	return v, err
}

func (c *Client) DesignateHeir(ctx context.Context, account, heir common.Address) (service.AccountView, error) {
	var v service.AccountView
	err := c.do(ctx, http.MethodPost, "/api/accounts/"+account.Hex()+"/heir", map[string]string{"heir": heir.Hex()}, true, &v)
	return v, err
}

func (c *Client) Claim(ctx context.Context, account common.Address) (service.AccountView, error) {
	var v service.AccountView
	err := c.do(ctx, http.MethodPost, "/api/accounts/"+account.Hex()+"/claim", nil, true, &v)
	return v, err
}

func (c *Client) Account(ctx context.Context, account common.Address) (service.AccountView, error) {
	var v service.AccountView
	err := c.do(ctx, http.MethodGet, "/api/accounts/"+account.Hex(), nil, false, &v)
	return v, err
}

func (c *Client) Wallet(ctx context.Context, addr common.Address) (service.WalletView, error) {
	var v service.WalletView
	err := c.do(ctx, http.MethodGet, "/api/wallets/"+addr.Hex(), nil, false, &v)
	return v, err
}

func (c *Client) Events(ctx context.Context, account common.Address, page, limit int) (service.HistoryPage, error) {
	var p service.HistoryPage
	q := url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodGet, "/api/accounts/"+account.Hex()+"/events?"+q.Encode(), nil, false, &p)
	return p, err
}

type Token struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	Address   string `json:"address"`
}

func (c *Client) Token(ctx context.Context) (Token, error) {
	var t Token
	err := c.do(ctx, http.MethodPost, "/api/auth/token", nil, true, &t)
	return t, err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, sign bool, out interface{}) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = b
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sign {
		if c.key == nil {
			return fmt.Errorf("custody api: %s %s needs a signing key", method, path)
		}
		// 签名只覆盖 path，不含 query
		h, err := sigauth.Headers(c.key, method, req.URL.Path, c.clock.Now(), raw)
		if err != nil {
			return err
		}
		for k, v := range h {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
