package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testTxHash = "0xfeed000000000000000000000000000000000000000000000000000000000001"

var (
	testToken     = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
	testDonor     = common.HexToAddress("0xaBcDeF1234567890aBcDeF1234567890aBcDeF12")
	testRecipient = common.HexToAddress("0x7aB8C9d0E1F2a3B4C5D6e7F8a9B0c1D2E3f4A5b6")
)

func transferLog(amount *big.Int) *types.Log {
	return &types.Log{
		Address: testToken,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(testDonor.Bytes()),
			common.BytesToHash(testRecipient.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestRecordFromLogs(t *testing.T) {
	amount := big.NewInt(50_000_000)
	rec, err := RecordFromLogs("base-sepolia", testTxHash, []*types.Log{transferLog(amount)})
	if err != nil {
		t.Fatalf("RecordFromLogs: %v", err)
	}

	if rec.Donor != testDonor.Hex() {
		t.Errorf("Donor: got %q want %q", rec.Donor, testDonor.Hex())
	}
	if rec.Recipient != testRecipient.Hex() {
		t.Errorf("Recipient: got %q want %q", rec.Recipient, testRecipient.Hex())
	}
	if rec.Token != testToken.Hex() {
		t.Errorf("Token: got %q want %q", rec.Token, testToken.Hex())
	}
	if rec.Amount.Cmp(amount) != 0 {
		t.Errorf("Amount: got %s want %s", rec.Amount, amount)
	}
	if rec.Network != "base-sepolia" {
		t.Errorf("Network: got %q", rec.Network)
	}
	if rec.TxHash != testTxHash {
		t.Errorf("TxHash: got %q", rec.TxHash)
	}
}

func TestRecordFromLogs_SkipsNonTransferEvents(t *testing.T) {
	other := &types.Log{
		Address: testToken,
		Topics:  []common.Hash{common.HexToHash("0x01"), common.BytesToHash(testDonor.Bytes())},
	}
	amount := big.NewInt(7)

	rec, err := RecordFromLogs("base", testTxHash, []*types.Log{other, transferLog(amount)})
	if err != nil {
		t.Fatalf("RecordFromLogs: %v", err)
	}
	if rec.Amount.Cmp(amount) != 0 {
		t.Errorf("Amount: got %s want %s", rec.Amount, amount)
	}
}

func TestRecordFromLogs_NoTransfer(t *testing.T) {
	if _, err := RecordFromLogs("base", testTxHash, nil); err == nil {
		t.Error("expected error for receipt without transfer logs")
	}
}
