package http

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gopherheir.com/pkg/clock"
	resp "gopherheir.com/pkg/common"
	"gopherheir.com/pkg/sigauth"
	"gopherheir.com/pkg/xerr"
)

const (
	ctxKeyPrincipal = "custody_principal"
	maxBodyBytes    = 1 << 20
	tokenIssuer     = "gopherheir"
)

var (
	ErrUnauthenticated = xerr.NewErrCode(xerr.Unauthenticated)
	ErrBadToken        = xerr.New(xerr.Unauthenticated, "invalid or expired token")
	ErrBodyTooLarge    = xerr.New(xerr.RequestParamsError, "body too large")
)

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	MaxSkew   time.Duration `mapstructure:"max_skew"`
}

// Authenticator 两种方式确认调用方：签名头，或者用签名换来的 bearer token
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	skew   time.Duration
	clock  clock.Clock
	replay sigauth.ReplayCache
}

type AuthOption func(*Authenticator)

// WithReplayCache 多实例部署时传共享的 cache，默认是进程内的
func WithReplayCache(rc sigauth.ReplayCache) AuthOption {
	return func(a *Authenticator) {
		if rc != nil {
			a.replay = rc
		}
	}
}

func NewAuthenticator(cfg AuthConfig, clk clock.Clock, opts ...AuthOption) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.System()
	}
	a := &Authenticator{secret: []byte(cfg.JWTSecret), ttl: cfg.TokenTTL, skew: cfg.MaxSkew, clock: clk}
	for _, opt := range opts {
		opt(a)
	}
	if a.replay == nil {
		a.replay = sigauth.NewMemoryReplayCache(clk.Now)
	}
	return a
}

func (a *Authenticator) IssueToken(addr common.Address) (string, time.Time, error) {
	now := a.clock.Now()
	exp := now.Add(a.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   addr.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

func (a *Authenticator) ParseToken(s string) (common.Address, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(s, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil || !common.IsHexAddress(claims.Subject) {
		return common.Address{}, xerr.Wrap(errOr(err, ErrBadToken), xerr.Unauthenticated, "invalid or expired token")
	}
	return common.HexToAddress(claims.Subject), nil
}

// verifySignature 读完 body 再放回去，handler 还要 bind。
// 时间窗两侧各 skew，同一签名内容记 2*skew，窗口内只认第一次
func (a *Authenticator) verifySignature(c *gin.Context) (common.Address, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		return common.Address{}, xerr.Wrap(err, xerr.RequestParamsError, "unreadable body")
	}
	if len(body) > maxBodyBytes {
		return common.Address{}, ErrBodyTooLarge
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	v, err := sigauth.Verify(c.Request.Method, c.Request.URL.Path, sigauth.FromHeader(c.Request.Header),
		body, a.clock.Now(), a.skew)
	if err != nil {
		return common.Address{}, xerr.Wrap(err, xerr.Unauthenticated, "invalid request signature")
	}
	if err := sigauth.CheckReplay(c.Request.Context(), a.replay, v.Digest, 2*a.skew); err != nil {
		if errors.Is(err, sigauth.ErrReplayed) {
			return common.Address{}, xerr.Wrap(err, xerr.Unauthenticated, "request signature already used")
		}
		return common.Address{}, xerr.Wrap(err, xerr.ServiceBusy, "replay check unavailable")
	}
	return v.Signer, nil
}

func (a *Authenticator) principal(c *gin.Context, allowBearer bool) (common.Address, bool, error) {
	if h := c.GetHeader("Authorization"); allowBearer && strings.HasPrefix(h, "Bearer ") {
		addr, err := a.ParseToken(strings.TrimPrefix(h, "Bearer "))
		return addr, err == nil, err
	}
	if c.GetHeader(sigauth.HeaderSignature) != "" {
		addr, err := a.verifySignature(c)
		return addr, err == nil, err
	}
	return common.Address{}, false, nil
}

// Required 没有凭证直接 401
func (a *Authenticator) Required() gin.HandlerFunc {
	return a.middleware(true, true)
}

// Optional 有凭证就校验，没有就匿名放行
func (a *Authenticator) Optional() gin.HandlerFunc {
	return a.middleware(false, true)
}

// SignatureOnly 换 token 只认签名
func (a *Authenticator) SignatureOnly() gin.HandlerFunc {
	return a.middleware(true, false)
}

func (a *Authenticator) middleware(required, allowBearer bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr, ok, err := a.principal(c, allowBearer)
		if err != nil {
			resp.FailErr(c, err)
			c.Abort()
			return
		}
		if !ok && required {
			resp.FailErr(c, ErrUnauthenticated)
			c.Abort()
			return
		}
		if ok {
			c.Set(ctxKeyPrincipal, addr)
		}
		c.Next()
	}
}

// Principal 匿名时返回零地址
func Principal(c *gin.Context) common.Address {
	if v, ok := c.Get(ctxKeyPrincipal); ok {
		if addr, ok := v.(common.Address); ok {
			return addr
		}
	}
	return common.Address{}
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
