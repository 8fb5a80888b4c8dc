package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	priceOracleABIJSON = `[
{"inputs":[{"internalType":"uint64","name":"price","type":"uint64"}],"name":"updatePrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"latestPrice","outputs":[{"internalType":"uint64","name":"price","type":"uint64"},{"internalType":"int64","name":"lastUpdate","type":"int64"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"authority","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`
)

var (
	priceOracleABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(priceOracleABIJSON))
	if err != nil {
		panic("failed to parse price oracle ABI: " + err.Error())
	}
	priceOracleABI = parsed
}

// EVMBackend is the subset of ethclient.Client used by the EVM ledger.
type EVMBackend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// EVMOptions parameterise the EVM oracle contract binding.
type EVMOptions struct {
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
	ChainID         int64
	GasLimit        uint64
}

// EVM publishes the price to a contract exposing updatePrice(uint64) and latestPrice().
type EVM struct {
	opts      EVMOptions
	logger    zerolog.Logger
	key       *ecdsa.PrivateKey
	from      common.Address
	contract  common.Address
	backend   EVMBackend
	clientMux sync.Mutex
}

// NewEVM builds an EVM ledger. backend may be nil, in which case it is dialled lazily from RPCURL.
func NewEVM(opts EVMOptions, backend EVMBackend, logger zerolog.Logger) (*EVM, error) {
	if opts.RPCURL == "" && backend == nil {
		return nil, errors.New("evm rpc url not configured")
	}
	if !common.IsHexAddress(opts.ContractAddress) {
		return nil, errors.New("evm oracle contract address not configured")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse evm private key: %w", err)
	}

	return &EVM{
		opts:     opts,
		logger:   logger.With().Str("component", "evm_ledger").Logger(),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		contract: common.HexToAddress(opts.ContractAddress),
		backend:  backend,
	}, nil
}

// Publish sends an updatePrice transaction signed by the configured key.
func (e *EVM) Publish(ctx context.Context, rate decimal.Decimal) (Publication, error) {
	price, err := ToFixedPoint(rate)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	payload, err := priceOracleABI.Pack("updatePrice", price)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	backend, err := e.getBackend(ctx)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	hash, err := e.send(ctx, backend, payload)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	e.logger.Info().Uint64("price", price).Str("tx", hash.Hex()).Msg("oracle price submitted")
	return Publication{Price: price, Reference: hash.Hex()}, nil
}

// ReadLatest calls latestPrice() on the contract.
func (e *EVM) ReadLatest(ctx context.Context) (Record, error) {
	backend, err := e.getBackend(ctx)
	if err != nil {
		return Record{}, ledgerError("read latest", err)
	}

	payload, err := priceOracleABI.Pack("latestPrice")
	if err != nil {
		return Record{}, ledgerError("read latest", err)
	}

	res, err := backend.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: payload}, nil)
	if err != nil {
		return Record{}, ledgerError("read latest", err)
	}

	record, err := decodeLatestPrice(res)
	if err != nil {
		return Record{}, ledgerError("read latest", err)
	}
	record.Authority = e.from.Hex()
	return record, nil
}

func (e *EVM) send(ctx context.Context, backend EVMBackend, payload []byte) (common.Hash, error) {
	nonce, err := backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	gasLimit := e.opts.GasLimit
	if gasLimit == 0 {
		gasLimit, err = backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &e.contract, Data: payload})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
	}

	chainID := big.NewInt(e.opts.ChainID)
	if e.opts.ChainID == 0 {
		chainID, err = backend.ChainID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain id: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     payload,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (e *EVM) getBackend(ctx context.Context) (EVMBackend, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.backend != nil {
		return e.backend, nil
	}

	client, err := ethclient.DialContext(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	e.backend = client
	return client, nil
}

func decodeLatestPrice(res []byte) (Record, error) {
	outputs, err := priceOracleABI.Unpack("latestPrice", res)
	if err != nil {
		return Record{}, err
	}
	if len(outputs) != 2 {
		return Record{}, errors.New("unexpected latestPrice response")
	}

	price, ok := outputs[0].(uint64)
	if !ok {
		return Record{}, errors.New("failed to decode latestPrice price")
	}
	updated, ok := outputs[1].(int64)
	if !ok {
		return Record{}, errors.New("failed to decode latestPrice timestamp")
	}

	return Record{Price: price, UpdatedAt: time.Unix(updated, 0).UTC()}, nil
}

var _ OracleLedger = (*EVM)(nil)
