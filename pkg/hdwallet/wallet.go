// 助记词派生以太坊签名密钥，custodyctl 用它给请求签名
package hdwallet

import (
	"crypto/ecdsa"
	"errors"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// CoinTypeETH BIP44 里以太坊的 coin_type
const CoinTypeETH = 60

var ErrEmptyMnemonic = errors.New("hdwallet: mnemonic cannot be empty")

type HDWallet struct {
	// 主私钥
	masterKey *hdkeychain.ExtendedKey
}

// NewMnemonic 生成 128/256 位熵的助记词
func NewMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// New 传入助记词和可选口令
func New(mnemonic, passphrase string) (*HDWallet, error) {
	if mnemonic == "" {
		return nil, ErrEmptyMnemonic
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("hdwallet: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	// 以太坊路径与网络无关，主网参数只用来满足 hdkeychain 的签名
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return &HDWallet{masterKey: master}, nil
}

// DeriveSigner 按 m/44'/60'/0'/0/index 派生私钥和地址
func (w *HDWallet) DeriveSigner(index uint32) (*ecdsa.PrivateKey, common.Address, error) {
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,          // Purpose
		CoinTypeETH + hdkeychain.HardenedKeyStart, // CoinType
		0 + hdkeychain.HardenedKeyStart,           // Account
		0,
		index,
	}
	key := w.masterKey
	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, common.Address{}, err
		}
	}
	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, common.Address{}, err
	}
	ecdsaKey := priv.ToECDSA()
	return ecdsaKey, crypto.PubkeyToAddress(ecdsaKey.PublicKey), nil
}
