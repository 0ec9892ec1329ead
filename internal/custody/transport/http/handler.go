package http

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"gopherheir.com/internal/custody/service"
	resp "gopherheir.com/pkg/common"
	"gopherheir.com/pkg/ethunit"
	"gopherheir.com/pkg/xerr"
)

var (
	ErrBadAddress = xerr.New(xerr.RequestParamsError, "invalid address")
)

// AmountReq amount 是 ether 十进制字符串，amountWei 优先
type AmountReq struct {
	Amount    string `json:"amount"`
	AmountWei string `json:"amountWei"`
}

func (r AmountReq) parse() (*uint256.Int, error) {
	switch {
	case r.AmountWei != "":
		v, err := ethunit.ParseWei(r.AmountWei)
		if err != nil {
			return nil, xerr.Wrap(err, xerr.RequestParamsError, "invalid amountWei")
		}
		return v, nil
	case r.Amount != "":
		v, err := ethunit.ParseEther(r.Amount)
		if err != nil {
			return nil, xerr.Wrap(err, xerr.RequestParamsError, "invalid amount")
		}
		return v, nil
	}
	return nil, nil
}

type HeirReq struct {
	Heir string `json:"heir"`
}

type TokenResp struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	Address   string `json:"address"`
}

type Handler struct {
	svc  *service.Service
	auth *Authenticator
}

func NewHandler(svc *service.Service, auth *Authenticator) *Handler {
	return &Handler{svc: svc, auth: auth}
}

func (h *Handler) Token(c *gin.Context) {
	addr := Principal(c)
	tok, exp, err := h.auth.IssueToken(addr)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, TokenResp{Token: tok, ExpiresAt: exp.Unix(), Address: addr.Hex()})
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req AmountReq
	if !bindOptional(c, &req) {
		return
	}
	amt, err := req.parse()
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := h.svc.CreateAccount(c.Request.Context(), Principal(c), amt)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, v)
}

func (h *Handler) GetAccount(c *gin.Context) {
	acct, ok := pathAddr(c, "account")
	if !ok {
		return
	}
	v, err := h.svc.Account(c.Request.Context(), acct)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, v)
}

func (h *Handler) Deposit(c *gin.Context) {
	h.amountOp(c, h.svc.Deposit)
}

func (h *Handler) Withdraw(c *gin.Context) {
	h.amountOp(c, h.svc.Withdraw)
}

func (h *Handler) amountOp(c *gin.Context, op func(ctx context.Context, account, actor common.Address, amount *uint256.Int) (service.AccountView, error)) {
	acct, ok := pathAddr(c, "account")
	if !ok {
		return
	}
	var req AmountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return
	}
	amt, err := req.parse()
	if err != nil {
		h.fail(c, err)
		return
	}
	v, err := op(c.Request.Context(), acct, Principal(c), amt)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, v)
}

func (h *Handler) DesignateHeir(c *gin.Context) {
	acct, ok := pathAddr(c, "account")
	if !ok {
		return
	}
	var req HeirReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return
	}
	// 零地址合法，表示清空
	if !common.IsHexAddress(req.Heir) {
		h.fail(c, ErrBadAddress)
		return
	}
	v, err := h.svc.DesignateHeir(c.Request.Context(), acct, Principal(c), common.HexToAddress(req.Heir))
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, v)
}

func (h *Handler) Claim(c *gin.Context) {
	acct, ok := pathAddr(c, "account")
	if !ok {
		return
	}
	v, err := h.svc.ClaimInheritance(c.Request.Context(), acct, Principal(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, v)
}

func (h *Handler) Events(c *gin.Context) {
	acct, ok := pathAddr(c, "account")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	p, err := h.svc.History(c.Request.Context(), acct, page, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp.Success(c, p)
}

func (h *Handler) Wallet(c *gin.Context) {
	addr, ok := pathAddr(c, "address")
	if !ok {
		return
	}
	resp.Success(c, h.svc.Wallet(c.Request.Context(), addr))
}

// fail 记到 c.Errors 给 sentinel 统计，再按业务码回包
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	resp.FailErr(c, err)
}

func pathAddr(c *gin.Context, name string) (common.Address, bool) {
	s := c.Param(name)
	if !common.IsHexAddress(s) {
		resp.FailErr(c, ErrBadAddress)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// bindOptional 允许空 body
func bindOptional(c *gin.Context, out interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		resp.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "invalid request body"))
		return false
	}
	return true
}
