package hdwallet

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const devMnemonic = "test test test test test test test test test test test junk"

func TestHDWallet_DeriveSigner(t *testing.T) {
	wallet, err := New(devMnemonic, "")
	require.NoError(t, err)

	key0, addr0, err := wallet.DeriveSigner(0)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", addr0.Hex())
	assert.Equal(t, addr0, crypto.PubkeyToAddress(key0.PublicKey))

	_, addr1, err := wallet.DeriveSigner(1)
	require.NoError(t, err)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", addr1.Hex())

	// 同一个助记词再派生一次结果一致
	again, err := New(devMnemonic, "")
	require.NoError(t, err)
	_, addr0b, err := again.DeriveSigner(0)
	require.NoError(t, err)
	assert.Equal(t, addr0, addr0b)
}

func TestHDWallet_RejectsBadMnemonic(t *testing.T) {
	_, err := New("", "")
	assert.ErrorIs(t, err, ErrEmptyMnemonic)

	_, err = New("test test test", "")
	assert.Error(t, err)
}

func TestNewMnemonic(t *testing.T) {
	m, err := NewMnemonic(128)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(m), 12)

	_, err = New(m, "")
	assert.NoError(t, err)
}
