package xerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_KeepsCauseReachable(t *testing.T) {
	base := NewErrCode(Unauthorized)
	owner := Wrap(base, Unauthorized, "only the owner can call this function")
	heir := Wrap(base, Unauthorized, "only the heir can claim inheritance")

	assert.True(t, errors.Is(owner, base))
	assert.True(t, errors.Is(heir, base))
	assert.NotEqual(t, owner.Error(), heir.Error())

	// 再包一层 fmt 也要能拿到码
	outer := fmt.Errorf("withdraw: %w", owner)
	ce, ok := As(outer)
	require.True(t, ok)
	assert.Equal(t, Unauthorized, ce.Code)
	assert.Equal(t, "only the owner can call this function", MessageOf(outer))
}

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, DbError, "x"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, ServerCommonError, CodeOf(errors.New("boom")))
	assert.Equal(t, TimelockNotElapsed, CodeOf(New(TimelockNotElapsed, "wait")))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[int]int{
		RequestParamsError: http.StatusBadRequest,
		Unauthorized:       http.StatusForbidden,
		InsufficientFunds:  http.StatusPaymentRequired,
		TimelockNotElapsed: http.StatusLocked,
		RecordNotFound:     http.StatusNotFound,
		DbError:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), "code %d", code)
	}
}
