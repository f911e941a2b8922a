package anchor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"go.uber.org/zap"
)

// DefaultGasLimit is the configured gas limit for logFlight unless
// overridden. Set GasLimit to 0 to estimate per call instead.
const DefaultGasLimit = 500_000

// rpcLimitExceeded is the JSON-RPC code nodes use for rate limiting.
const rpcLimitExceeded = -32005

// ethBackend is the subset of *ethclient.Client used by EthereumLedger.
type ethBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumConfig configures an EthereumLedger.
type EthereumConfig struct {
	RPCURL          string
	ChainID         int64
	PrivateKeyHex   string // signing identity; pays for and is attributed to every write
	ContractAddress string
	GasLimit        uint64        // 0 = estimate per call
	ReceiptTimeout  time.Duration // 0 = return as soon as the node accepts the transaction
	ReceiptPoll     time.Duration // default 2s
}

// EthereumLedger anchors checkpoints in a FlightLogRegistry contract.
type EthereumLedger struct {
	backend  ethBackend
	closer   func()
	cfg      EthereumConfig
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	chainID  *big.Int
	logger   *zap.Logger

	// sendMu serialises nonce allocation and broadcast for the signing
	// account; concurrent flights share it.
	sendMu sync.Mutex
}

// NewEthereumLedger dials cfg.RPCURL and checks that the node serves the
// configured chain.
func NewEthereumLedger(ctx context.Context, cfg EthereumConfig, logger *zap.Logger) (*EthereumLedger, error) {
	if cfg.RPCURL == "" {
		return nil, faults.Inputf("ledger rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, faults.NotConnected(fmt.Errorf("dial %s: %w", cfg.RPCURL, err))
	}

	l, err := newEthereumLedger(client, cfg, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	l.closer = client.Close

	nodeChain, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, faults.NotConnected(fmt.Errorf("query chain id: %w", err))
	}
	if nodeChain.Cmp(l.chainID) != 0 {
		client.Close()
		return nil, faults.Inputf("node serves chain %s, configured chain is %s", nodeChain, l.chainID)
	}
	return l, nil
}

func newEthereumLedger(backend ethBackend, cfg EthereumConfig, logger *zap.Logger) (*EthereumLedger, error) {
	parsed, err := abi.JSON(strings.NewReader(flightLogRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, faults.Inputf("contract address %q is not a hex address", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, faults.Inputf("ledger private key: %v", err)
	}
	if cfg.ChainID <= 0 {
		return nil, faults.Inputf("chain id must be positive, got %d", cfg.ChainID)
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}

	return &EthereumLedger{
		backend:  backend,
		cfg:      cfg,
		abi:      parsed,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		logger:   logger,
	}, nil
}

// Close releases the RPC connection.
func (l *EthereumLedger) Close() {
	if l.closer != nil {
		l.closer()
	}
}

// Address returns the signing account.
func (l *EthereumLedger) Address() string { return l.from.Hex() }

// Submit implements Ledger by sending logFlight(key, s3Key).
func (l *EthereumLedger) Submit(ctx context.Context, key [KeySize]byte, s3Key string, payload []byte) (*Receipt, error) {
	data, err := l.abi.Pack("logFlight", key, s3Key)
	if err != nil {
		return nil, faults.Inputf("pack logFlight: %v", err)
	}

	signed, err := l.send(ctx, data)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		MissionKey:    "0x" + common.Bytes2Hex(key[:]),
		SubmissionID:  signed.Hash().Hex(),
		Status:        StatusSubmitted,
		PayloadDigest: payloadDigest(payload),
		SubmittedAt:   time.Now().UTC(),
	}
	l.logger.Info("anchor transaction sent",
		zap.String("mission_key", receipt.MissionKey),
		zap.String("tx_hash", receipt.SubmissionID),
		zap.Uint64("nonce", signed.Nonce()),
	)

	if l.cfg.ReceiptTimeout <= 0 {
		return receipt, nil
	}
	return receipt, l.awaitReceipt(ctx, signed.Hash(), receipt)
}

func (l *EthereumLedger) send(ctx context.Context, data []byte) (*types.Transaction, error) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	nonce, err := l.backend.PendingNonceAt(ctx, l.from)
	if err != nil {
		return nil, classifyRPC(fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classifyRPC(fmt.Errorf("gas price: %w", err))
	}

	gas := l.cfg.GasLimit
	if gas == 0 {
		gas, err = l.backend.EstimateGas(ctx, ethereum.CallMsg{From: l.from, To: &l.contract, Data: data})
		if err != nil {
			return nil, classifyRPC(fmt.Errorf("estimate gas: %w", err))
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &l.contract,
		Value:    big.NewInt(0),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifyRPC(fmt.Errorf("send transaction: %w", err))
	}
	return signed, nil
}

// awaitReceipt polls for inclusion until ReceiptTimeout. Running out of time
// is not an error: the receipt stays "submitted".
func (l *EthereumLedger) awaitReceipt(ctx context.Context, hash common.Hash, receipt *Receipt) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(l.cfg.ReceiptPoll)
	defer ticker.Stop()

	for {
		r, err := l.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			receipt.BlockNumber = r.BlockNumber.Uint64()
			if r.Status == types.ReceiptStatusFailed {
				return faults.Rejected(fmt.Errorf("transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber))
			}
			receipt.Status = StatusConfirmed
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			l.logger.Debug("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("anchor transaction not confirmed before timeout",
				zap.String("tx_hash", hash.Hex()),
				zap.Duration("timeout", l.cfg.ReceiptTimeout),
			)
			return nil
		case <-ticker.C:
		}
	}
}

// Query implements Ledger by calling getFlight(key).
func (l *EthereumLedger) Query(ctx context.Context, key [KeySize]byte) (*Slot, error) {
	data, err := l.abi.Pack("getFlight", key)
	if err != nil {
		return nil, faults.Inputf("pack getFlight: %v", err)
	}
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &l.contract, Data: data}, nil)
	if err != nil {
		return nil, classifyRPC(fmt.Errorf("call getFlight: %w", err))
	}

	vals, err := l.abi.Unpack("getFlight", out)
	if err != nil {
		return nil, fmt.Errorf("unpack getFlight: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("getFlight returned %d values, want 3", len(vals))
	}
	s3Key, _ := vals[0].(string)
	ts, _ := vals[1].(*big.Int)
	uploader, _ := vals[2].(common.Address)

	slot := &Slot{S3Key: s3Key}
	if s3Key != "" {
		if ts != nil {
			slot.Timestamp = time.Unix(ts.Int64(), 0).UTC()
		}
		slot.Uploader = uploader.Hex()
	}
	return slot, nil
}

// Ping implements Ledger.
func (l *EthereumLedger) Ping(ctx context.Context) error {
	if _, err := l.backend.BlockNumber(ctx); err != nil {
		return faults.NotConnected(fmt.Errorf("ledger node %s: %w", l.cfg.RPCURL, err))
	}
	return nil
}

// Info implements Ledger.
func (l *EthereumLedger) Info(ctx context.Context) (*ChainInfo, error) {
	info := &ChainInfo{
		Backend:           "ethereum",
		RPCURL:            l.cfg.RPCURL,
		ConfiguredChainID: l.cfg.ChainID,
		ContractAddress:   l.contract.Hex(),
		AccountAddress:    l.from.Hex(),
	}
	block, err := l.backend.BlockNumber(ctx)
	if err != nil {
		l.logger.Warn("ledger info: node unreachable", zap.Error(err))
		return info, nil
	}
	info.Connected = true
	info.LatestBlock = block
	if id, err := l.backend.ChainID(ctx); err == nil {
		info.NodeChainID = id.Int64()
	}
	return info, nil
}

// classifyRPC separates execution-rule rejections from transport trouble.
// JSON-RPC errors carry a code and mean the node refused the call; HTTP
// 429/5xx and network failures are worth retrying.
func classifyRPC(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return faults.Transient(err)
		}
		return faults.Rejected(err)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.ErrorCode() == rpcLimitExceeded {
			return faults.Transient(err)
		}
		return faults.Rejected(err)
	}
	return faults.Transient(err)
}
