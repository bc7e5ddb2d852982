package vault

import (
	"crypto/ecdsa"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Memory keeps secp256k1 keys in process memory behind a single password.
// It backs development builds and tests; production wallets plug in a vault
// over OS keychain or hardware storage.
type Memory struct {
	password string
	order    []common.Address
	keys     map[common.Address]*ecdsa.PrivateKey
}

// NewMemory builds a vault from raw private keys. The first key's address
// becomes the active account.
func NewMemory(password string, keys ...*ecdsa.PrivateKey) *Memory {
	m := &Memory{
		password: password,
		keys:     make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
	}
	for _, k := range keys {
		addr := crypto.PubkeyToAddress(k.PublicKey)
		if _, dup := m.keys[addr]; dup {
			continue
		}
		m.keys[addr] = k
		m.order = append(m.order, addr)
	}
	return m
}

// NewMemoryFromHex builds a vault from hex-encoded private keys.
func NewMemoryFromHex(password string, hexKeys ...string) (*Memory, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(hexKeys))
	for _, h := range hexKeys {
		k, err := crypto.HexToECDSA(h)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		keys = append(keys, k)
	}
	return NewMemory(password, keys...), nil
}

func (m *Memory) ActiveAccounts() []common.Address {
	return append([]common.Address(nil), m.order...)
}

func (m *Memory) VerifyPassword(authData string) error {
	if subtle.ConstantTimeCompare([]byte(authData), []byte(m.password)) != 1 {
		return ErrLocked
	}
	return nil
}

func (m *Memory) key(account common.Address, authData string) (*ecdsa.PrivateKey, error) {
	if err := m.VerifyPassword(authData); err != nil {
		return nil, err
	}
	k, ok := m.keys[account]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return k, nil
}

func (m *Memory) SignTransaction(account common.Address, tx *types.Transaction, chainID *big.Int, authData string) (*types.Transaction, error) {
	k, err := m.key(account, authData)
	if err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), k)
}

func (m *Memory) SignMessage(account common.Address, message []byte, authData string) ([]byte, error) {
	k, err := m.key(account, authData)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(accounts.TextHash(message), k)
	if err != nil {
		return nil, err
	}
	// Shift the recovery id into the 27/28 range dApps expect.
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (m *Memory) SignTypedData(account common.Address, typed apitypes.TypedData, authData string) ([]byte, error) {
	k, err := m.key(account, authData)
	if err != nil {
		return nil, err
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, k)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
