// Package gmx is the exchange connector for GMX perpetuals on Avalanche. It
// reads positions from the Vault and submits increase/decrease requests to
// the PositionRouter.
package gmx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// usdDecimals is the fixed-point precision GMX uses for USD amounts and
// prices.
const usdDecimals = 30

// Backend is the slice of an Ethereum JSON-RPC client the connector uses.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSigner signs transactions for the trading account. *crypto.Signer
// satisfies it.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Token is an ERC-20 the connector trades or uses as collateral.
type Token struct {
	Address  string
	Decimals int32
}

// Config holds contract addresses and transaction defaults.
type Config struct {
	VaultAddress          string
	PositionRouterAddress string
	Tokens                map[string]Token
	IndexToken            string
	StableToken           string
	ExecutionFeeWei       *big.Int
	ReferralCode          [32]byte
	GasHeadroomPct        uint64
	ReadAttempts          uint
	RetryInitial          time.Duration
}

// DefaultConfig returns the Avalanche mainnet deployment.
func DefaultConfig() Config {
	return Config{
		VaultAddress:          "0x9ab2De34A33fB459b538c43f251eB825645e8595",
		PositionRouterAddress: "0xb87a436B93fFE9D75c5cFA7bAcFff96430b09868",
		Tokens: map[string]Token{
			domain.SymbolAVAX: {Address: "0xB31f66AA3C1e785363F0875A1B74E27b85FD66c7", Decimals: 18},
			domain.SymbolUSDC: {Address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6},
		},
		IndexToken:      domain.SymbolAVAX,
		StableToken:     domain.SymbolUSDC,
		ExecutionFeeWei: big.NewInt(300_000),
		GasHeadroomPct:  20,
		ReadAttempts:    3,
		RetryInitial:    200 * time.Millisecond,
	}
}

// Client implements domain.ExchangeConnector against GMX.
type Client struct {
	backend Backend
	signer  TxSigner
	cfg     Config
	vault   common.Address
	router  common.Address
	index   Token
	stable  Token
	logger  *slog.Logger
}

// New creates a Client. signer may be nil, in which case the client is
// read-only and writes fail with domain.ErrConfiguration.
func New(backend Backend, signer TxSigner, cfg Config, logger *slog.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.VaultAddress == "" {
		cfg.VaultAddress = def.VaultAddress
	}
	if cfg.PositionRouterAddress == "" {
		cfg.PositionRouterAddress = def.PositionRouterAddress
	}
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = def.Tokens
	}
	if cfg.IndexToken == "" {
		cfg.IndexToken = def.IndexToken
	}
	if cfg.StableToken == "" {
		cfg.StableToken = def.StableToken
	}
	if cfg.ExecutionFeeWei == nil {
		cfg.ExecutionFeeWei = def.ExecutionFeeWei
	}
	if cfg.ReadAttempts == 0 {
		cfg.ReadAttempts = def.ReadAttempts
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = def.RetryInitial
	}

	for _, a := range []string{cfg.VaultAddress, cfg.PositionRouterAddress} {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("gmx: contract address %q: %w", a, domain.ErrConfiguration)
		}
	}
	index, ok := cfg.Tokens[cfg.IndexToken]
	if !ok {
		return nil, fmt.Errorf("gmx: index token %s: %w", cfg.IndexToken, domain.ErrUnsupportedToken)
	}
	stable, ok := cfg.Tokens[cfg.StableToken]
	if !ok {
		return nil, fmt.Errorf("gmx: stable token %s: %w", cfg.StableToken, domain.ErrUnsupportedToken)
	}

	return &Client{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		vault:   common.HexToAddress(cfg.VaultAddress),
		router:  common.HexToAddress(cfg.PositionRouterAddress),
		index:   index,
		stable:  stable,
		logger:  logger.With(slog.String("component", "gmx")),
	}, nil
}

// collateralFor returns the collateral token GMX uses for side: the index
// token backs longs and the stablecoin backs shorts.
func (c *Client) collateralFor(side domain.Side) Token {
	if side == domain.SideLong {
		return c.index
	}
	return c.stable
}

func parseWallet(wallet string) (common.Address, error) {
	if !common.IsHexAddress(wallet) {
		return common.Address{}, fmt.Errorf("gmx: wallet %q: %w", wallet, domain.ErrValidation)
	}
	return common.HexToAddress(wallet), nil
}

func observe(method string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ConnectorLatency.WithLabelValues(method, result).Observe(time.Since(start).Seconds())
}

// call runs a read-only contract call, retrying transient failures.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInitial
	return backoff.Retry(ctx, func() ([]byte, error) {
		out, err := c.backend.CallContract(ctx, msg, nil)
		if err == nil {
			return out, nil
		}
		cerr := classify(err)
		if !errors.Is(cerr, domain.ErrConnector) {
			return nil, backoff.Permanent(cerr)
		}
		return nil, cerr
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(c.cfg.ReadAttempts))
}

// GetPosition reads the wallet's position on side. A missing position comes
// back with zero size.
func (c *Client) GetPosition(ctx context.Context, wallet string, side domain.Side) (pos domain.RawPosition, err error) {
	start := time.Now()
	defer func() { observe("get_position", start, err) }()

	account, err := parseWallet(wallet)
	if err != nil {
		return domain.RawPosition{}, err
	}
	collateral := c.collateralFor(side)
	data, err := vaultABI.Pack("getPosition",
		account,
		common.HexToAddress(collateral.Address),
		common.HexToAddress(c.index.Address),
		side == domain.SideLong,
	)
	if err != nil {
		return domain.RawPosition{}, fmt.Errorf("gmx: pack getPosition: %w", err)
	}
	out, err := c.call(ctx, c.vault, data)
	if err != nil {
		return domain.RawPosition{}, fmt.Errorf("gmx: getPosition %s: %w", side, err)
	}
	vals, err := vaultABI.Unpack("getPosition", out)
	if err != nil || len(vals) != 8 {
		return domain.RawPosition{}, fmt.Errorf("gmx: decode getPosition: %v: %w", err, domain.ErrConnector)
	}

	num := func(i int) *big.Int {
		v, _ := vals[i].(*big.Int)
		if v == nil {
			return new(big.Int)
		}
		return v
	}
	hasProfit, _ := vals[6].(bool)
	pos = domain.RawPosition{
		Size:             fromUSD(num(0)),
		Collateral:       fromUSD(num(1)),
		AveragePrice:     fromUSD(num(2)),
		EntryFundingRate: decimal.NewFromBigInt(num(3), 0),
		ReserveAmount:    decimal.NewFromBigInt(num(4), -collateral.Decimals),
		RealizedPnL:      fromUSD(num(5)),
		HasProfit:        hasProfit,
	}
	if ts := num(7); ts.Sign() > 0 {
		pos.LastIncreasedAt = time.Unix(ts.Int64(), 0).UTC()
	}
	return pos, nil
}

// AvailableLiquidity returns the pool amount of token not reserved by open
// positions, in token units.
func (c *Client) AvailableLiquidity(ctx context.Context, token string) (liq decimal.Decimal, err error) {
	start := time.Now()
	defer func() { observe("available_liquidity", start, err) }()

	t, ok := c.cfg.Tokens[strings.ToUpper(token)]
	if !ok {
		return decimal.Zero, fmt.Errorf("gmx: %s: %w", token, domain.ErrUnsupportedToken)
	}
	addr := common.HexToAddress(t.Address)

	read := func(method string) (*big.Int, error) {
		data, err := vaultABI.Pack(method, addr)
		if err != nil {
			return nil, fmt.Errorf("gmx: pack %s: %w", method, err)
		}
		out, err := c.call(ctx, c.vault, data)
		if err != nil {
			return nil, fmt.Errorf("gmx: %s %s: %w", method, token, err)
		}
		vals, err := vaultABI.Unpack(method, out)
		if err != nil || len(vals) != 1 {
			return nil, fmt.Errorf("gmx: decode %s: %v: %w", method, err, domain.ErrConnector)
		}
		v, _ := vals[0].(*big.Int)
		if v == nil {
			v = new(big.Int)
		}
		return v, nil
	}

	pool, err := read("poolAmounts")
	if err != nil {
		return decimal.Zero, err
	}
	reserved, err := read("reservedAmounts")
	if err != nil {
		return decimal.Zero, err
	}
	free := new(big.Int).Sub(pool, reserved)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return decimal.NewFromBigInt(free, -t.Decimals), nil
}

// OpenPosition submits a createIncreasePosition request of sizeUSD on side,
// funded with the same USD amount of the stablecoin.
func (c *Client) OpenPosition(ctx context.Context, wallet string, sizeUSD decimal.Decimal, side domain.Side, acceptablePrice decimal.Decimal) (tx string, err error) {
	start := time.Now()
	defer func() { observe("open_position", start, err) }()

	if !sizeUSD.IsPositive() {
		return "", fmt.Errorf("gmx: size %s: %w", sizeUSD, domain.ErrValidation)
	}
	if err := c.checkWriter(wallet); err != nil {
		return "", err
	}

	path := []common.Address{common.HexToAddress(c.stable.Address)}
	if side == domain.SideLong {
		path = append(path, common.HexToAddress(c.index.Address))
	}
	data, err := positionRouterABI.Pack("createIncreasePosition",
		path,
		common.HexToAddress(c.index.Address),
		toUnits(sizeUSD, c.stable.Decimals),
		new(big.Int),
		toUnits(sizeUSD, usdDecimals),
		side == domain.SideLong,
		toUnits(acceptablePrice, usdDecimals),
		c.cfg.ExecutionFeeWei,
		c.cfg.ReferralCode,
		common.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("gmx: pack createIncreasePosition: %w", err)
	}
	return c.send(ctx, data, "open")
}

// ClosePosition submits a createDecreasePosition request for the whole
// position on side. It fails with domain.ErrNoPosition when there is none.
func (c *Client) ClosePosition(ctx context.Context, wallet string, side domain.Side, acceptablePrice decimal.Decimal) (tx string, err error) {
	start := time.Now()
	defer func() { observe("close_position", start, err) }()

	if err := c.checkWriter(wallet); err != nil {
		return "", err
	}
	pos, err := c.GetPosition(ctx, wallet, side)
	if err != nil {
		return "", err
	}
	if pos.Size.IsZero() {
		return "", fmt.Errorf("gmx: close %s: %w", side, domain.ErrNoPosition)
	}

	path := []common.Address{common.HexToAddress(c.collateralFor(side).Address)}
	if side == domain.SideLong {
		path = append(path, common.HexToAddress(c.stable.Address))
	}
	data, err := positionRouterABI.Pack("createDecreasePosition",
		path,
		common.HexToAddress(c.index.Address),
		toUnits(pos.Collateral, usdDecimals),
		toUnits(pos.Size, usdDecimals),
		side == domain.SideLong,
		c.signer.Address(),
		toUnits(acceptablePrice, usdDecimals),
		new(big.Int),
		c.cfg.ExecutionFeeWei,
		false,
		common.Address{},
	)
	if err != nil {
		return "", fmt.Errorf("gmx: pack createDecreasePosition: %w", err)
	}
	return c.send(ctx, data, "close")
}

func (c *Client) checkWriter(wallet string) error {
	if c.signer == nil {
		return fmt.Errorf("gmx: no signing key: %w", domain.ErrConfiguration)
	}
	account, err := parseWallet(wallet)
	if err != nil {
		return err
	}
	if account != c.signer.Address() {
		return fmt.Errorf("gmx: wallet %s is not the signing account: %w", wallet, domain.ErrUnauthorized)
	}
	return nil
}

// send builds, signs and broadcasts a PositionRouter call carrying the
// execution fee.
func (c *Client) send(ctx context.Context, data []byte, op string) (string, error) {
	from := c.signer.Address()
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("gmx: %s: nonce: %w", op, classify(err))
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gmx: %s: gas price: %w", op, classify(err))
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &c.router,
		GasPrice: gasPrice,
		Value:    c.cfg.ExecutionFeeWei,
		Data:     data,
	})
	if err != nil {
		return "", fmt.Errorf("gmx: %s: estimate gas: %w", op, classify(err))
	}
	gas += gas * c.cfg.GasHeadroomPct / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.router,
		Value:    c.cfg.ExecutionFeeWei,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx)
	if err != nil {
		return "", fmt.Errorf("gmx: %s: %v: %w", op, err, domain.ErrSigningFailed)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("gmx: %s: send: %w", op, classify(err))
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "gmx: transaction sent",
		slog.String("op", op),
		slog.String("tx_hash", hash),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return hash, nil
}

// classify maps node and revert errors onto the domain taxonomy. Anything
// unrecognised is treated as a transient connector failure. Context errors
// pass through unchanged so callers can tell a cancelled request apart from
// an exchange failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	var kind error
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		kind = domain.ErrInsufficientBalance
	case strings.Contains(msg, "allowance"):
		kind = domain.ErrInsufficientAllowance
	case strings.Contains(msg, "price impact"):
		kind = domain.ErrPriceImpactTooHigh
	case strings.Contains(msg, "insufficient liquidity"), strings.Contains(msg, "poolamount exceeded"), strings.Contains(msg, "reserve exceeds pool"):
		kind = domain.ErrInsufficientLiquidity
	case strings.Contains(msg, "execution reverted"):
		kind = domain.ErrReverted
	default:
		kind = domain.ErrConnector
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func fromUSD(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -usdDecimals)
}

// toUnits converts d to an integer with the given number of decimals,
// truncating any excess precision.
func toUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).BigInt()
}

var _ domain.ExchangeConnector = (*Client)(nil)
