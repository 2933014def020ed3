package blockchain

import (
	"context"
	"fmt"
	"time"

	"raffled/internal/logger"
	"raffled/internal/raffle"

	"github.com/tonkeeper/tongo/boc"
	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/tlb"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"
)

const payoutComment = "raffle payout"

var WalletMap = map[string]wallet.Version{
	"V3R1":         wallet.V3R1,
	"V3R2":         wallet.V3R2,
	"V4R1":         wallet.V4R1,
	"V4R2":         wallet.V4R2,
	"V5Beta":       wallet.V5Beta,
	"V5R1":         wallet.V5R1,
	"HighLoadV2R2": wallet.HighLoadV2R2,
}

// NormalizeAddress parses any TON address form into its raw "wc:hex" form so
// the same account always maps to the same participant.
func NormalizeAddress(address string) (string, error) {
	accountID, err := ton.ParseAccountID(address)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", raffle.ErrInvalidParticipant, address, err)
	}
	return accountID.ToRaw(), nil
}

// WalletPayer pays raffle winners from the oracle wallet.
type WalletPayer struct {
	wallet  *wallet.Wallet
	timeout time.Duration
}

func NewWalletPayer(mnemonic string, version string, testnet bool) (*WalletPayer, error) {
	logger.Debug("wallet payer initialization: lite client...", zap.Bool("testnet", testnet))

	var (
		client *liteapi.Client
		err    error
	)
	if testnet {
		client, err = liteapi.NewClientWithDefaultTestnet()
	} else {
		client, err = liteapi.NewClientWithDefaultMainnet()
	}
	if err != nil {
		return nil, err
	}

	pk, err := wallet.SeedToPrivateKey(mnemonic)
	if err != nil {
		return nil, err
	}

	walletVersion, ok := WalletMap[version]
	if !ok {
		return nil, fmt.Errorf("unsupported wallet version %q", version)
	}

	payoutWallet, err := wallet.New(pk, walletVersion, client)
	if err != nil {
		return nil, err
	}

	logger.Debug("wallet payer initialization... done", zap.String("version", version))
	return &WalletPayer{
		wallet:  &payoutWallet,
		timeout: 60 * time.Second,
	}, nil
}

func (p *WalletPayer) Transfer(ctx context.Context, to string, amount raffle.Amount) error {
	logger.Debug("sending payout to blockchain...", zap.String("to", to), zap.Uint64("amount", uint64(amount)))

	accountID, err := ton.ParseAccountID(to)
	if err != nil {
		return err
	}

	body, err := PayoutBody(payoutComment)
	if err != nil {
		return err
	}

	message := wallet.Message{
		Amount:  tlb.Grams(amount),
		Address: accountID,
		Bounce:  false,
		Mode:    wallet.DefaultMessageMode,
		Body:    body,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.wallet.Send(ctx, message); err != nil {
		return err
	}

	logger.Debug("sending payout to blockchain... done")
	return nil
}

// PayoutBody builds a text comment message body: a zero op code followed by
// the comment bytes.
func PayoutBody(comment string) (*boc.Cell, error) {
	cell := boc.NewCell()

	if err := cell.WriteUint(0, 32); err != nil {
		return nil, err
	}

	if err := cell.WriteBytes([]byte(comment)); err != nil {
		return nil, err
	}

	return cell, nil
}
