// Package sigauth 请求签名：EIP-191 text hash 覆盖 METHOD\nPATH\nTIMESTAMP\nNONCE\nkeccak256(body)
package sigauth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

const (
	HeaderAddress   = "X-Custody-Address"
	HeaderTimestamp = "X-Custody-Timestamp"
	HeaderSignature = "X-Custody-Signature"
	HeaderNonce     = "X-Custody-Nonce"

	maxNonceLen = 64
)

var (
	ErrBadSignature = errors.New("sigauth: malformed signature")
	ErrAddrMismatch = errors.New("sigauth: signer does not match address header")
	ErrStale        = errors.New("sigauth: timestamp outside allowed skew")
	ErrBadNonce     = errors.New("sigauth: missing or oversized nonce")
)

// Request 签名相关的四个头
type Request struct {
	Address   string
	Timestamp string
	Nonce     string
	Signature string
}

func FromHeader(h http.Header) Request {
	return Request{
		Address:   h.Get(HeaderAddress),
		Timestamp: h.Get(HeaderTimestamp),
		Nonce:     h.Get(HeaderNonce),
		Signature: h.Get(HeaderSignature),
	}
}

// Verified 校验通过的请求。Digest 对签名者和签名内容唯一，用来判重放
type Verified struct {
	Signer common.Address
	Digest common.Hash
	At     time.Time
}

func Payload(method, path string, ts int64, nonce string, body []byte) []byte {
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s\n%s", method, path, ts, nonce, hexutil.Encode(crypto.Keccak256(body))))
}

// Sign 返回 0x 开头的 65 字节签名，V 用 27/28，和钱包 personal_sign 一致
func Sign(key *ecdsa.PrivateKey, method, path string, ts int64, nonce string, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(Payload(method, path, ts, nonce, body)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

func Recover(method, path string, ts int64, nonce string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(Payload(method, path, ts, nonce, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Headers 客户端一次性算好四个头，每次调用生成新的 nonce
func Headers(key *ecdsa.PrivateKey, method, path string, now time.Time, body []byte) (map[string]string, error) {
	ts := now.Unix()
	nonce := uuid.NewString()
	sig, err := Sign(key, method, path, ts, nonce, body)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		HeaderTimestamp: strconv.FormatInt(ts, 10),
		HeaderNonce:     nonce,
		HeaderSignature: sig,
	}, nil
}

// Verify 校验时间窗、nonce、签名以及地址头。是否重放由调用方拿 Digest 去判
func Verify(method, path string, r Request, body []byte, now time.Time, maxSkew time.Duration) (Verified, error) {
	ts, err := strconv.ParseInt(r.Timestamp, 10, 64)
	if err != nil {
		return Verified{}, fmt.Errorf("%w: bad timestamp", ErrStale)
	}
	at := time.Unix(ts, 0)
	if d := now.Sub(at); d > maxSkew || d < -maxSkew {
		return Verified{}, ErrStale
	}
	if r.Nonce == "" || len(r.Nonce) > maxNonceLen {
		return Verified{}, ErrBadNonce
	}
	signer, err := Recover(method, path, ts, r.Nonce, body, r.Signature)
	if err != nil {
		return Verified{}, err
	}
	if r.Address != "" && (!common.IsHexAddress(r.Address) || common.HexToAddress(r.Address) != signer) {
		return Verified{}, ErrAddrMismatch
	}
	// 按签名者+签名内容算，不按签名字节算，同一内容换一种签名编码也算重放
	digest := crypto.Keccak256Hash(signer.Bytes(), accounts.TextHash(Payload(method, path, ts, r.Nonce, body)))
	return Verified{Signer: signer, Digest: digest, At: at}, nil
}
