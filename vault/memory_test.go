package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	testPassword = "correct horse"
	testKeyHex   = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

func newTestVault(t *testing.T) (*Memory, common.Address) {
	t.Helper()
	m, err := NewMemoryFromHex(testPassword, testKeyHex)
	if err != nil {
		t.Fatalf("build vault: %v", err)
	}
	accountsList := m.ActiveAccounts()
	if len(accountsList) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accountsList))
	}
	return m, accountsList[0]
}

func TestVerifyPassword(t *testing.T) {
	m, _ := newTestVault(t)
	if err := m.VerifyPassword(testPassword); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if err := m.VerifyPassword("wrong"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestSignMessageRecoversSigner(t *testing.T) {
	m, addr := newTestVault(t)
	message := []byte("hello wallet")
	sig, err := m.SignMessage(addr, message, testPassword)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != crypto.SignatureLength {
		t.Fatalf("expected %d byte signature, got %d", crypto.SignatureLength, len(sig))
	}
	if v := sig[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Fatalf("expected recovery id 27 or 28, got %d", v)
	}

	recovered := make([]byte, len(sig))
	copy(recovered, sig)
	recovered[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(message), recovered)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != addr {
		t.Fatalf("recovered %s, want %s", got.Hex(), addr.Hex())
	}
}

func TestSignMessageRejectsBadAuth(t *testing.T) {
	m, addr := newTestVault(t)
	if _, err := m.SignMessage(addr, []byte("x"), "wrong"); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	unknown := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	if _, err := m.SignMessage(unknown, []byte("x"), testPassword); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestSignTransaction(t *testing.T) {
	m, addr := newTestVault(t)
	chainID := big.NewInt(1337)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(1_000_000_000),
		Gas:      21000,
		GasPrice: big.NewInt(2_000_000_000),
	})
	signed, err := m.SignTransaction(addr, tx, chainID, testPassword)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if sender != addr {
		t.Fatalf("sender %s, want %s", sender.Hex(), addr.Hex())
	}
}

func TestSignTypedData(t *testing.T) {
	m, addr := newTestVault(t)
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Mail": []apitypes.Type{
				{Name: "contents", Type: "string"},
			},
		},
		PrimaryType: "Mail",
		Domain: apitypes.TypedDataDomain{
			Name:    "Ember",
			ChainId: math.NewHexOrDecimal256(1),
		},
		Message: apitypes.TypedDataMessage{"contents": "hello"},
	}
	sig, err := m.SignTypedData(addr, typed, testPassword)
	if err != nil {
		t.Fatalf("sign typed: %v", err)
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		t.Fatalf("hash typed: %v", err)
	}
	recovered := make([]byte, len(sig))
	copy(recovered, sig)
	recovered[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(hash, recovered)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != addr {
		t.Fatalf("recovered %s, want %s", got.Hex(), addr.Hex())
	}
}
