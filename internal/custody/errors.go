package custody

import "gopherheir.com/pkg/xerr"

// 对外文案需要区分 非owner / 非heir / 时间锁 / 余额
var (
	ErrUnauthorized = xerr.NewErrCode(xerr.Unauthorized)
	ErrNotOwner     = xerr.Wrap(ErrUnauthorized, xerr.Unauthorized, "only the owner can call this function")
	ErrNotHeir      = xerr.Wrap(ErrUnauthorized, xerr.Unauthorized, "only the heir can claim inheritance")

	ErrTimelockNotElapsed = xerr.New(xerr.TimelockNotElapsed, "one month has not passed since the last withdrawal")
	ErrInsufficientFunds  = xerr.New(xerr.InsufficientFunds, "insufficient funds")

	ErrZeroOwner       = xerr.New(xerr.RequestParamsError, "owner cannot be the zero address")
	ErrBalanceOverflow = xerr.New(xerr.RequestParamsError, "deposit overflows the account balance")
	ErrAccountNotFound = xerr.New(xerr.RecordNotFound, "custody account not found")
	ErrAccountExists   = xerr.New(xerr.RequestParamsError, "custody account already exists")
)
