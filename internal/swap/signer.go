package swap

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TransactionSender submits signed transactions. *rpc.Client satisfies it.
type TransactionSender interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// LocalSigner signs API-built swap transactions with the agent's wallet key.
type LocalSigner struct {
	owner      solana.PrivateKey
	sender     TransactionSender
	commitment rpc.CommitmentType
}

// NewLocalSigner wires a signing key to an RPC sender.
func NewLocalSigner(owner solana.PrivateKey, sender TransactionSender, commitment rpc.CommitmentType) *LocalSigner {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	return &LocalSigner{owner: owner, sender: sender, commitment: commitment}
}

// Address returns the signer's wallet address.
func (s *LocalSigner) Address() string {
	return s.owner.PublicKey().String()
}

// SignAndSend decodes a base64 transaction, signs it and submits it.
func (s *LocalSigner) SignAndSend(ctx context.Context, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode tx: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("unmarshal tx: %w", err)
	}

	owner := s.owner.PublicKey()
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(owner) {
			return &s.owner
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	sig, err := s.sender.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	return sig.String(), nil
}
