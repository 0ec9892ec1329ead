package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopherheir.com/internal/custody/journal"
	"gopherheir.com/internal/custody/outbox"
	"gopherheir.com/internal/custody/service"
	"gopherheir.com/pkg/bootstrap"
	"gopherheir.com/pkg/sigauth"
)

func testConfig(dir string) *Config {
	return &Config{
		Name:    "custody-test",
		Log:     Log{Level: "debug"},
		Journal: journal.Config{Dir: dir, Sync: true},
		Outbox:  Outbox{Poll: 10 * time.Millisecond, Retry: 10 * time.Millisecond},
	}
}

type envelope struct {
	Code int                 `json:"code"`
	Data service.AccountView `json:"data"`
}

func call(t *testing.T, h http.Handler, method, path string, body []byte, sign bool) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if sign {
		key, err := crypto.HexToECDSA("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
		require.NoError(t, err)
		hdr, err := sigauth.Headers(key, method, path, time.Now(), body)
		require.NoError(t, err)
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func build(t *testing.T, cfg *Config) *bootstrap.Service {
	t.Helper()
	svc, err := Build(context.Background(), cfg, bootstrap.Deps{})
	require.NoError(t, err)
	return svc
}

func TestBuild_StateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	svc := build(t, cfg)
	code, out := call(t, svc.Handler, http.MethodPost, "/api/accounts", []byte(`{"amount":"2"}`), true)
	require.Equal(t, http.StatusOK, code)
	acct := out.Data.Address
	code, _ = call(t, svc.Handler, http.MethodPost, "/api/accounts/"+acct+"/withdraw", []byte(`{"amount":"0.5"}`), true)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, svc.Close())

	svc = build(t, cfg)
	defer func() { _ = svc.Close() }()
	code, out = call(t, svc.Handler, http.MethodGet, "/api/accounts/"+acct, nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.5", out.Data.BalanceEther)

	// 账户 nonce 也恢复了，第二个账户地址不同
	code, out = call(t, svc.Handler, http.MethodPost, "/api/accounts", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.NotEqual(t, acct, out.Data.Address)
}

func TestBuild_BrokerPublisherDrainsJournal(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	svc := build(t, cfg)
	defer func() { _ = svc.Close() }()
	require.Len(t, svc.Workers, 1)
	assert.Equal(t, "outbox-broker", svc.Workers[0].Name)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Workers[0].Run(ctx) }()

	code, _ := call(t, svc.Handler, http.MethodPost, "/api/accounts", nil, true)
	require.Equal(t, http.StatusOK, code)

	// cursor 落盘说明事件已经投递到 broker
	assert.Eventually(t, func() bool {
		fi, err := os.Stat(outbox.CursorPath(dir, "broker"))
		return err == nil && fi.Size() == 8
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "custody-service", d["name"])
	assert.Equal(t, "data/journal", d["journal.dir"])
	assert.Equal(t, true, d["writer.enabled"])
	assert.Equal(t, "custody:writer", d["writer.key"])
}
