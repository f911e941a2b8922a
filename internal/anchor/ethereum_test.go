package anchor

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"go.uber.org/zap"
)

const testChainID = 31337

// fakeChain is an ethBackend that executes logFlight/getFlight in memory.
type fakeChain struct {
	t *testing.T

	mu       sync.Mutex
	nonce    uint64
	block    uint64
	slots    map[[32]byte]string
	senders  map[[32]byte]common.Address
	sent     []*types.Transaction
	sendErr  error
	pingErr  error
	reverted bool
	mined    bool
}

func newFakeChain(t *testing.T) *fakeChain {
	return &fakeChain{
		t:       t,
		block:   100,
		slots:   make(map[[32]byte]string),
		senders: make(map[[32]byte]common.Address),
		mined:   true,
	}
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(testChainID), nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	if f.pingErr != nil {
		return 0, f.pingErr
	}
	return f.block, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 80_000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(testChainID)), tx)
	if err != nil {
		f.t.Fatalf("bad signature: %v", err)
	}

	parsed := mustABI(f.t)
	method, err := parsed.MethodById(tx.Data()[:4])
	if err != nil || method.Name != "logFlight" {
		f.t.Fatalf("unexpected call: %v", err)
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		f.t.Fatalf("unpack logFlight: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := args[0].([32]byte)
	f.slots[key] = args[1].(string)
	f.senders[key] = from
	f.sent = append(f.sent, tx)
	f.nonce++
	f.block++
	return nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	parsed := mustABI(f.t)
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil || method.Name != "getFlight" {
		f.t.Fatalf("unexpected call: %v", err)
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		f.t.Fatalf("unpack getFlight: %v", err)
	}
	key := args[0].([32]byte)

	f.mu.Lock()
	defer f.mu.Unlock()
	ts := big.NewInt(0)
	if f.slots[key] != "" {
		ts = big.NewInt(1_700_000_000)
	}
	return method.Outputs.Pack(f.slots[key], ts, f.senders[key])
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if !f.mined {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if f.reverted {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, BlockNumber: big.NewInt(int64(f.block))}, nil
}

func mustABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(flightLogRegistryABI))
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}

var (
	testKeyOnce sync.Once
	testKeyHex  string
)

func testEthConfig(t *testing.T) EthereumConfig {
	t.Helper()
	testKeyOnce.Do(func() {
		k, err := crypto.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		testKeyHex = "0x" + hex.EncodeToString(crypto.FromECDSA(k))
	})
	return EthereumConfig{
		RPCURL:          "http://127.0.0.1:8545",
		ChainID:         testChainID,
		PrivateKeyHex:   testKeyHex,
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	}
}

func newTestEthLedger(t *testing.T, f *fakeChain, mutate func(*EthereumConfig)) *EthereumLedger {
	t.Helper()
	cfg := testEthConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := newEthereumLedger(f, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestEthereumLedger_submitThenQuery(t *testing.T) {
	f := newFakeChain(t)
	l := newTestEthLedger(t, f, nil)
	key, _ := DeriveKey("flight-1", SchemeSHA256)

	r, err := l.Submit(context.Background(), key.Bytes(), "s3://b/k?seq=1", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusSubmitted {
		t.Errorf("without receipt wait status should be submitted, got %q", r.Status)
	}
	if r.SubmissionID != f.sent[0].Hash().Hex() {
		t.Errorf("submission id: got %s, want %s", r.SubmissionID, f.sent[0].Hash().Hex())
	}
	if r.MissionKey != key.Hex() {
		t.Errorf("mission key: got %s, want %s", r.MissionKey, key.Hex())
	}

	slot, err := l.Query(context.Background(), key.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if slot.S3Key != "s3://b/k?seq=1" {
		t.Errorf("s3 key: got %q", slot.S3Key)
	}
	if slot.Uploader != l.Address() {
		t.Errorf("uploader: got %s, want %s", slot.Uploader, l.Address())
	}
	if slot.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestEthereumLedger_queryUnwritten(t *testing.T) {
	l := newTestEthLedger(t, newFakeChain(t), nil)
	key, _ := DeriveKey("never", SchemeSHA256)
	slot, err := l.Query(context.Background(), key.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if slot.S3Key != "" || slot.Uploader != "" {
		t.Errorf("expected empty slot, got %+v", slot)
	}
}

func TestEthereumLedger_noncesAdvance(t *testing.T) {
	f := newFakeChain(t)
	l := newTestEthLedger(t, f, func(c *EthereumConfig) { c.GasLimit = DefaultGasLimit })

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, _ := DeriveKey("flight-"+string(rune('a'+i)), SchemeSHA256)
			if _, err := l.Submit(context.Background(), key.Bytes(), "k", nil); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, tx := range f.sent {
		if seen[tx.Nonce()] {
			t.Errorf("nonce %d reused", tx.Nonce())
		}
		seen[tx.Nonce()] = true
		if tx.Gas() != DefaultGasLimit {
			t.Errorf("gas: got %d, want %d", tx.Gas(), DefaultGasLimit)
		}
	}
}

func TestEthereumLedger_awaitReceipt(t *testing.T) {
	f := newFakeChain(t)
	l := newTestEthLedger(t, f, func(c *EthereumConfig) {
		c.ReceiptTimeout = time.Second
		c.ReceiptPoll = time.Millisecond
	})
	key, _ := DeriveKey("f", SchemeSHA256)

	r, err := l.Submit(context.Background(), key.Bytes(), "k", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusConfirmed || r.BlockNumber == 0 {
		t.Errorf("expected confirmed receipt, got %+v", r)
	}
}

func TestEthereumLedger_receiptTimeoutIsNotAnError(t *testing.T) {
	f := newFakeChain(t)
	f.mined = false
	l := newTestEthLedger(t, f, func(c *EthereumConfig) {
		c.ReceiptTimeout = 20 * time.Millisecond
		c.ReceiptPoll = time.Millisecond
	})
	key, _ := DeriveKey("f", SchemeSHA256)

	r, err := l.Submit(context.Background(), key.Bytes(), "k", nil)
	if err != nil {
		t.Fatalf("timeout should not fail the submission: %v", err)
	}
	if r.Status != StatusSubmitted {
		t.Errorf("status: got %q, want submitted", r.Status)
	}
}

func TestEthereumLedger_revertedIsRejected(t *testing.T) {
	f := newFakeChain(t)
	f.reverted = true
	l := newTestEthLedger(t, f, func(c *EthereumConfig) {
		c.ReceiptTimeout = time.Second
		c.ReceiptPoll = time.Millisecond
	})
	key, _ := DeriveKey("f", SchemeSHA256)

	if _, err := l.Submit(context.Background(), key.Bytes(), "k", nil); !errors.Is(err, faults.ErrLedgerRejected) {
		t.Errorf("expected ErrLedgerRejected, got %v", err)
	}
}

type testRPCError struct {
	code int
	msg  string
}

func (e testRPCError) Error() string  { return e.msg }
func (e testRPCError) ErrorCode() int { return e.code }

var _ rpc.Error = testRPCError{}

func TestEthereumLedger_sendErrorsClassified(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"insufficient funds", testRPCError{-32000, "insufficient funds for gas * price + value"}, faults.ErrLedgerRejected},
		{"rate limited", testRPCError{rpcLimitExceeded, "limit exceeded"}, faults.ErrTransientIO},
		{"http 429", rpc.HTTPError{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"}, faults.ErrTransientIO},
		{"http 502", rpc.HTTPError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}, faults.ErrTransientIO},
		{"http 401", rpc.HTTPError{StatusCode: http.StatusUnauthorized, Status: "401 Unauthorized"}, faults.ErrLedgerRejected},
		{"network", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), faults.ErrTransientIO},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeChain(t)
			f.sendErr = tc.err
			l := newTestEthLedger(t, f, nil)
			key, _ := DeriveKey("f", SchemeSHA256)

			_, err := l.Submit(context.Background(), key.Bytes(), "k", nil)
			if !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEthereumLedger_pingAndInfo(t *testing.T) {
	f := newFakeChain(t)
	l := newTestEthLedger(t, f, nil)

	if err := l.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	info, err := l.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !info.Connected || info.NodeChainID != testChainID || info.AccountAddress != l.Address() {
		t.Errorf("unexpected info: %+v", info)
	}

	f.pingErr = errors.New("connection refused")
	if err := l.Ping(context.Background()); !errors.Is(err, faults.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	info, _ = l.Info(context.Background())
	if info.Connected {
		t.Error("info should report disconnected")
	}
}

func TestNewEthereumLedger_badConfig(t *testing.T) {
	for name, mutate := range map[string]func(*EthereumConfig){
		"bad contract": func(c *EthereumConfig) { c.ContractAddress = "nope" },
		"bad key":      func(c *EthereumConfig) { c.PrivateKeyHex = "0x1234" },
		"bad chain id": func(c *EthereumConfig) { c.ChainID = 0 },
	} {
		cfg := testEthConfig(t)
		mutate(&cfg)
		if _, err := newEthereumLedger(newFakeChain(t), cfg, zap.NewNop()); !errors.Is(err, faults.ErrInput) {
			t.Errorf("%s: expected ErrInput, got %v", name, err)
		}
	}
}
