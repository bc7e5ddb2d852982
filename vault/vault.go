// Package vault defines the key vault interface the bridge signs through.
// The bridge holds no key material; it hands an account, a payload, and the
// authorization material collected by the approval UI to the vault and gets
// back a signature.
package vault

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrLocked is returned when authorization material is rejected.
	ErrLocked = errors.New("vault: invalid authorization")
	// ErrUnknownAccount is returned for addresses the vault does not hold.
	ErrUnknownAccount = errors.New("vault: unknown account")
)

// Vault holds and uses private key material on behalf of the wallet.
type Vault interface {
	// ActiveAccounts lists unlocked addresses, active account first.
	ActiveAccounts() []common.Address
	// VerifyPassword checks authorization material without using a key.
	VerifyPassword(authData string) error
	// SignTransaction signs tx for account on chainID.
	SignTransaction(account common.Address, tx *types.Transaction, chainID *big.Int, authData string) (*types.Transaction, error)
	// SignMessage signs message with the EIP-191 personal-message prefix.
	SignMessage(account common.Address, message []byte, authData string) ([]byte, error)
	// SignTypedData signs EIP-712 structured data.
	SignTypedData(account common.Address, typed apitypes.TypedData, authData string) ([]byte, error)
}
