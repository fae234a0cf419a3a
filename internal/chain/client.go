// Package chain resolves a donation transaction hash into the typed record
// the inference prompt is built from. It reads receipts over JSON-RPC; no
// transactions are ever sent from this service.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DonationRecord is the normalized on-chain donation a paid request refers to.
type DonationRecord struct {
	TxHash    string
	Donor     string
	Recipient string
	Token     string
	Amount    *big.Int // token smallest unit
	Network   string
}

// Resolver reads donation transactions from an RPC endpoint.
type Resolver struct {
	eth     *ethclient.Client
	network string
}

func NewResolver(rpcURL, network string) (*Resolver, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Resolver{eth: eth, network: network}, nil
}

// ResolveDonation fetches the receipt for txHash and extracts the ERC-20
// transfer it carries.
func (r *Resolver) ResolveDonation(ctx context.Context, txHash string) (*DonationRecord, error) {
	if len(txHash) != 66 || txHash[:2] != "0x" {
		return nil, fmt.Errorf("invalid transaction hash %q", txHash)
	}

	receipt, err := r.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("fetch receipt %s: %w", txHash, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("transaction %s reverted", txHash)
	}

	return RecordFromLogs(r.network, txHash, receipt.Logs)
}

// RecordFromLogs extracts the first ERC-20 Transfer event from a receipt's
// logs. Split out from ResolveDonation so it is testable without an RPC node.
func RecordFromLogs(network, txHash string, logs []*types.Log) (*DonationRecord, error) {
	for _, lg := range logs {
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		return &DonationRecord{
			TxHash:    txHash,
			Donor:     common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			Recipient: common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Token:     lg.Address.Hex(),
			Amount:    new(big.Int).SetBytes(lg.Data),
			Network:   network,
		}, nil
	}
	return nil, fmt.Errorf("no token transfer in transaction %s", txHash)
}
