package sigauth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hardhat 默认第 0 个账户
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func toRequest(h map[string]string) Request {
	hdr := http.Header{}
	for k, v := range h {
		hdr.Set(k, v)
	}
	return FromHeader(hdr)
}

func TestSignAndVerify(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"amount":"1"}`)

	h, err := Headers(key, http.MethodPost, "/api/accounts", now, body)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", h[HeaderAddress])
	assert.NotEmpty(t, h[HeaderNonce])

	v, err := Verify(http.MethodPost, "/api/accounts", toRequest(h), body, now.Add(10*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, h[HeaderAddress], v.Signer.Hex())
	assert.Equal(t, now, v.At)
}

func TestVerify_Rejects(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)
	h, err := Headers(key, http.MethodPost, "/api/x", now, body)
	require.NoError(t, err)
	r := toRequest(h)

	_, err = Verify(http.MethodPost, "/api/x", r, body, now.Add(2*time.Minute), time.Minute)
	assert.ErrorIs(t, err, ErrStale)

	bad := r
	bad.Signature = "0x1234"
	_, err = Verify(http.MethodPost, "/api/x", bad, body, now, time.Minute)
	assert.ErrorIs(t, err, ErrBadSignature)

	// 改了 body 恢复出来的是别的地址
	_, err = Verify(http.MethodPost, "/api/x", r, []byte(`{"a":1}`), now, time.Minute)
	assert.ErrorIs(t, err, ErrAddrMismatch)

	// nonce 也在签名里
	swapped := r
	swapped.Nonce = "another"
	_, err = Verify(http.MethodPost, "/api/x", swapped, body, now, time.Minute)
	assert.ErrorIs(t, err, ErrAddrMismatch)

	noNonce := r
	noNonce.Nonce = ""
	_, err = Verify(http.MethodPost, "/api/x", noNonce, body, now, time.Minute)
	assert.ErrorIs(t, err, ErrBadNonce)

	anon := r
	anon.Address = ""
	v, err := Verify(http.MethodPost, "/api/x", anon, []byte(`{"a":1}`), now, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, h[HeaderAddress], v.Signer.Hex())
}

func TestVerify_DigestPerRequest(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{}`)

	h1, err := Headers(key, http.MethodPost, "/api/x", now, body)
	require.NoError(t, err)
	h2, err := Headers(key, http.MethodPost, "/api/x", now, body)
	require.NoError(t, err)
	assert.NotEqual(t, h1[HeaderNonce], h2[HeaderNonce])

	v1, err := Verify(http.MethodPost, "/api/x", toRequest(h1), body, now, time.Minute)
	require.NoError(t, err)
	again, err := Verify(http.MethodPost, "/api/x", toRequest(h1), body, now, time.Minute)
	require.NoError(t, err)
	v2, err := Verify(http.MethodPost, "/api/x", toRequest(h2), body, now, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, v1.Digest, again.Digest)
	assert.NotEqual(t, v1.Digest, v2.Digest)
}

func TestMemoryReplayCache(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryReplayCache(func() time.Time { return now })
	ctx := context.Background()

	ok, err := c.Mark(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = c.Mark(ctx, "a", time.Minute)
	assert.False(t, ok)
	ok, _ = c.Mark(ctx, "b", time.Minute)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = c.Mark(ctx, "a", time.Minute)
	assert.True(t, ok, "ttl 过了可以再用")
	// b 过期后被清掉
	assert.Equal(t, 1, c.Len())
}

func TestCheckReplay(t *testing.T) {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	h, err := Headers(key, http.MethodGet, "/api/x", now, nil)
	require.NoError(t, err)
	v, err := Verify(http.MethodGet, "/api/x", toRequest(h), nil, now, time.Minute)
	require.NoError(t, err)

	c := NewMemoryReplayCache(func() time.Time { return now })
	require.NoError(t, CheckReplay(context.Background(), c, v.Digest, 2*time.Minute))
	assert.ErrorIs(t, CheckReplay(context.Background(), c, v.Digest, 2*time.Minute), ErrReplayed)
}
