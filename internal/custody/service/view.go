package service

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/repo/model"
	"gopherheir.com/pkg/ethunit"
)

type AccountView struct {
	Address               string    `json:"address"`
	Owner                 string    `json:"owner"`
	Heir                  string    `json:"heir"`
	LastActivity          time.Time `json:"lastActivity"`
	LastActivityTimestamp int64     `json:"lastActivityTimestamp"`
	// 旧字段名，和 lastActivityTimestamp 同值
	LastWithdrawalTimestamp int64     `json:"lastWithdrawalTimestamp"`
	Balance                 string    `json:"balance"`
	BalanceEther            string    `json:"balanceEther"`
	ClaimableAt             time.Time `json:"claimableAt"`
	Claimable               bool      `json:"claimable"`
}

func accountView(st custody.State, now time.Time) AccountView {
	claimableAt := st.LastActivity.Add(custody.InactivityPeriod)
	ts := st.LastActivity.Unix()
	return AccountView{
		Address:                 st.Account.Hex(),
		Owner:                   st.Owner.Hex(),
		Heir:                    st.Heir.Hex(),
		LastActivity:            st.LastActivity,
		LastActivityTimestamp:   ts,
		LastWithdrawalTimestamp: ts,
		Balance:                 st.Balance.Dec(),
		BalanceEther:            ethunit.FormatEther(st.Balance),
		ClaimableAt:             claimableAt,
		Claimable:               st.Heir != (common.Address{}) && !now.Before(claimableAt),
	}
}

type WalletView struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	BalanceEther string `json:"balanceEther"`
}

func walletView(addr common.Address, bal *uint256.Int) WalletView {
	return WalletView{Address: addr.Hex(), Balance: bal.Dec(), BalanceEther: ethunit.FormatEther(bal)}
}

type EventView struct {
	Seq          uint64    `json:"seq"`
	Type         string    `json:"type"`
	Actor        string    `json:"actor"`
	Amount       string    `json:"amount"`
	PrevOwner    string    `json:"prevOwner,omitempty"`
	Owner        string    `json:"owner"`
	Heir         string    `json:"heir"`
	Balance      string    `json:"balance"`
	LastActivity time.Time `json:"lastActivity"`
	At           time.Time `json:"at"`
	RequestID    string    `json:"requestId,omitempty"`
}

type HistoryPage struct {
	Account string      `json:"account"`
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
	Total   int64       `json:"total"`
	Events  []EventView `json:"events"`
}

func historyPage(addr common.Address, page, limit int, total int64, rows []model.EventRow) *HistoryPage {
	out := &HistoryPage{Account: addr.Hex(), Page: page, Limit: limit, Total: total, Events: make([]EventView, 0, len(rows))}
	for _, r := range rows {
		out.Events = append(out.Events, EventView{
			Seq:          r.Seq,
			Type:         r.Type,
			Actor:        r.Actor,
			Amount:       r.Amount,
			PrevOwner:    r.PrevOwner,
			Owner:        r.Owner,
			Heir:         r.Heir,
			Balance:      r.Balance,
			LastActivity: r.LastActivity,
			At:           r.At,
			RequestID:    r.RequestID,
		})
	}
	return out
}

func clonePage(p *HistoryPage) *HistoryPage {
	c := *p
	c.Events = append([]EventView(nil), p.Events...)
	return &c
}
