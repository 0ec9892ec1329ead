package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopherheir.com/internal/custody"
)

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func hexOrEmpty(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func EventRowFrom(ev custody.Event) EventRow {
	return EventRow{
		Seq:          ev.Seq,
		Account:      ev.Account.Hex(),
		Type:         string(ev.Type),
		Actor:        ev.Actor.Hex(),
		Amount:       dec(ev.Amount),
		PrevOwner:    hexOrEmpty(ev.PrevOwner),
		Owner:        ev.Owner.Hex(),
		Heir:         ev.Heir.Hex(),
		Balance:      dec(ev.Balance),
		LastActivity: ev.LastActivity.UTC(),
		At:           ev.At.UTC(),
		RequestID:    ev.RequestID,
	}
}

func AccountRowFrom(ev custody.Event) AccountRow {
	return AccountRow{
		Address:      ev.Account.Hex(),
		Owner:        ev.Owner.Hex(),
		Heir:         ev.Heir.Hex(),
		LastActivity: ev.LastActivity.UTC(),
		Balance:      dec(ev.Balance),
		LastSeq:      ev.Seq,
	}
}
