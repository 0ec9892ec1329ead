// custodyctl 命令行客户端：助记词派生密钥，给请求签名
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/encoding/json"
	"gopherheir.com/internal/custody"
	"gopherheir.com/internal/custody/client"
	"gopherheir.com/pkg/hdwallet"
)

const usage = `usage: custodyctl [global flags] <command> [flags]

commands:
  mnemonic                      generate a new BIP39 mnemonic
  address                       print the address derived from the mnemonic
  create   [-amount X]          open a custody account (amount in ether, or "Nwei")
  deposit  -account A -amount X
  withdraw -account A -amount X
  heir     -account A -heir H   designate (or clear with the zero address) the heir
  claim    -account A
  state    -account A
  wallet   [-address W]         payout wallet balance, defaults to the signer
  events   -account A [-page N -limit N]
  token                         exchange a signature for a bearer token
  watch    [-account A]         stream events

global flags:
`

type globals struct {
	server     string
	mnemonic   string
	passphrase string
	index      uint
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "custodyctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var g globals
	fs := flag.NewFlagSet("custodyctl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&g.server, "server", envOr("CUSTODY_SERVER", "http://127.0.0.1:8080"), "service base URL")
	fs.StringVar(&g.mnemonic, "mnemonic", os.Getenv("CUSTODY_MNEMONIC"), "BIP39 mnemonic")
	fs.StringVar(&g.passphrase, "passphrase", os.Getenv("CUSTODY_PASSPHRASE"), "BIP39 passphrase")
	fs.UintVar(&g.index, "index", 0, "address index in m/44'/60'/0'/0/i")
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	sub := flag.NewFlagSet(cmd, flag.ContinueOnError)
	sub.SetOutput(out)
	account := sub.String("account", "", "custody account address")
	amount := sub.String("amount", "", "amount in ether, or with a wei suffix")
	heir := sub.String("heir", "", "heir address")
	address := sub.String("address", "", "wallet address")
	bits := sub.Int("bits", 128, "mnemonic entropy bits")
	page := sub.Int("page", 1, "page")
	limit := sub.Int("limit", 20, "page size")
	if err := sub.Parse(rest); err != nil {
		return err
	}

	switch cmd {
	case "mnemonic":
		m, err := hdwallet.NewMnemonic(*bits)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, m)
		return err
	case "address":
		_, addr, err := g.signer()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, addr.Hex())
		return err
	case "watch":
		c, err := g.client(false)
		if err != nil {
			return err
		}
		var acct common.Address
		if *account != "" {
			if acct, err = parseAddr("account", *account); err != nil {
				return err
			}
		}
		enc := json.NewEncoder(out)
		err = c.Watch(ctx, acct, func(ev custody.Event) { _ = enc.Encode(&ev) })
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	c, err := g.client(needsKey(cmd))
	if err != nil {
		return err
	}
	var res interface{}
	switch cmd {
	case "create":
		res, err = c.CreateAccount(ctx, *amount)
	case "deposit", "withdraw", "heir", "claim", "state", "events":
		acct, perr := parseAddr("account", *account)
		if perr != nil {
			return perr
		}
		switch cmd {
		case "deposit":
			res, err = c.Deposit(ctx, acct, *amount)
		case "withdraw":
			res, err = c.Withdraw(ctx, acct, *amount)
		case "heir":
			h, perr := parseAddr("heir", *heir)
			if perr != nil {
				return perr
			}
			res, err = c.DesignateHeir(ctx, acct, h)
		case "claim":
			res, err = c.Claim(ctx, acct)
		case "state":
			res, err = c.Account(ctx, acct)
		case "events":
			res, err = c.Events(ctx, acct, *page, *limit)
		}
	case "wallet":
		addr := c.Address()
		if *address != "" {
			if addr, err = parseAddr("address", *address); err != nil {
				return err
			}
		}
		if addr == (common.Address{}) {
			return errors.New("wallet: -address or -mnemonic is required")
		}
		res, err = c.Wallet(ctx, addr)
	case "token":
		res, err = c.Token(ctx)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

// needsKey 存款和只读命令可以匿名
func needsKey(cmd string) bool {
	switch cmd {
	case "create", "withdraw", "heir", "claim", "token":
		return true
	}
	return false
}

func (g globals) signer() (*ecdsa.PrivateKey, common.Address, error) {
	w, err := hdwallet.New(g.mnemonic, g.passphrase)
	if err != nil {
		return nil, common.Address{}, err
	}
	return w.DeriveSigner(uint32(g.index))
}

func (g globals) client(required bool) (*client.Client, error) {
	if g.mnemonic == "" {
		if required {
			return nil, errors.New("this command needs -mnemonic or CUSTODY_MNEMONIC")
		}
		return client.New(g.server, nil), nil
	}
	key, _, err := g.signer()
	if err != nil {
		return nil, err
	}
	return client.New(g.server, key), nil
}

func parseAddr(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("-%s: %q is not an address", name, s)
	}
	return common.HexToAddress(s), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
