package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	oracleSeed        = "price_oracle"
	oracleAccountName = "PriceOracle"
	// discriminator + authority + price + last_update + bump
	oracleAccountSize = 8 + 32 + 8 + 8 + 1
)

// ChainClient is the subset of the Solana RPC client the ledger needs. *rpc.Client satisfies it.
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

// SolanaOptions parameterise the Anchor oracle binding.
type SolanaOptions struct {
	ProgramID  solana.PublicKey
	Authority  solana.PrivateKey
	Commitment rpc.CommitmentType
}

// Solana writes the price through the oracle program's update_price instruction.
type Solana struct {
	opts   SolanaOptions
	client ChainClient
	oracle solana.PublicKey
	logger zerolog.Logger
}

// oracleAccount mirrors the on-chain PriceOracle layout after the discriminator.
type oracleAccount struct {
	Authority   solana.PublicKey
	USDBRLPrice uint64
	LastUpdate  int64
	Bump        uint8
}

// NewSolana derives the oracle PDA and returns a ledger bound to client.
func NewSolana(opts SolanaOptions, client ChainClient, logger zerolog.Logger) (*Solana, error) {
	if opts.ProgramID.IsZero() {
		return nil, errors.New("oracle program id not configured")
	}
	if len(opts.Authority) != 64 {
		return nil, errors.New("oracle authority key not configured")
	}
	if client == nil {
		return nil, errors.New("solana rpc client not configured")
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}

	pda, _, err := OraclePDA(opts.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive oracle pda: %w", err)
	}

	return &Solana{
		opts:   opts,
		client: client,
		oracle: pda,
		logger: logger.With().Str("component", "solana_ledger").Str("oracle", pda.String()).Logger(),
	}, nil
}

// OraclePDA derives the oracle account address for programID.
func OraclePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(oracleSeed)}, programID)
}

// Oracle returns the derived oracle account address.
func (s *Solana) Oracle() solana.PublicKey {
	return s.oracle
}

// Publish submits update_price with the fixed-point rate.
func (s *Solana) Publish(ctx context.Context, rate decimal.Decimal) (Publication, error) {
	price, err := ToFixedPoint(rate)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	data := make([]byte, 0, 16)
	data = append(data, instructionDiscriminator("update_price")...)
	data = binary.LittleEndian.AppendUint64(data, price)

	authority := s.opts.Authority.PublicKey()
	ix := solana.NewInstruction(s.opts.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(s.oracle, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, data)

	sig, err := s.submit(ctx, ix)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	s.logger.Info().Uint64("price", price).Str("signature", sig.String()).Msg("oracle price submitted")
	return Publication{Price: price, Reference: sig.String()}, nil
}

// Initialize creates the oracle account with the configured authority.
func (s *Solana) Initialize(ctx context.Context) (string, error) {
	authority := s.opts.Authority.PublicKey()
	ix := solana.NewInstruction(s.opts.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(s.oracle, true, false),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, instructionDiscriminator("initialize_oracle"))

	sig, err := s.submit(ctx, ix)
	if err != nil {
		return "", ledgerError("initialize", err)
	}
	s.logger.Info().Str("signature", sig.String()).Msg("oracle initialized")
	return sig.String(), nil
}

// ReadLatest fetches and decodes the oracle account.
func (s *Solana) ReadLatest(ctx context.Context) (Record, error) {
	res, err := s.client.GetAccountInfoWithOpts(ctx, s.oracle, &rpc.GetAccountInfoOpts{
		Commitment: s.opts.Commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		return Record{}, ledgerError("read latest", err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return Record{}, ledgerError("read latest", errors.New("oracle account not found"))
	}

	acct, err := decodeOracleAccount(res.Value.Data.GetBinary())
	if err != nil {
		return Record{}, ledgerError("read latest", err)
	}

	return Record{
		Price:     acct.USDBRLPrice,
		UpdatedAt: time.Unix(acct.LastUpdate, 0).UTC(),
		Authority: acct.Authority.String(),
	}, nil
}

func (s *Solana) submit(ctx context.Context, ix solana.Instruction) (solana.Signature, error) {
	authority := s.opts.Authority.PublicKey()

	recent, err := s.client.GetLatestBlockhash(ctx, s.opts.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("latest blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Signature{}, errors.New("latest blockhash: empty response")
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, recent.Value.Blockhash, solana.TransactionPayer(authority))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(authority) {
			return &s.opts.Authority
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign: %w", err)
	}

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: s.opts.Commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func decodeOracleAccount(data []byte) (oracleAccount, error) {
	if len(data) < oracleAccountSize {
		return oracleAccount{}, fmt.Errorf("oracle account too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], accountDiscriminator(oracleAccountName)) {
		return oracleAccount{}, errors.New("oracle account discriminator mismatch")
	}

	var acct oracleAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&acct); err != nil {
		return oracleAccount{}, fmt.Errorf("decode oracle account: %w", err)
	}
	return acct, nil
}

func instructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

func accountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

// ParsePrivateKey accepts a base58 secret or a solana-keygen style JSON byte array.
func ParsePrivateKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty private key")
	}

	if strings.HasPrefix(raw, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("parse key array: %w", err)
		}
		if len(ints) != 64 {
			return nil, fmt.Errorf("key array must have 64 bytes, got %d", len(ints))
		}
		key := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("key byte %d out of range", i)
			}
			key[i] = byte(v)
		}
		return solana.PrivateKey(key), nil
	}

	return solana.PrivateKeyFromBase58(raw)
}

var _ OracleLedger = (*Solana)(nil)
