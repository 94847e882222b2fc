package ports

import (
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
)

// Keystore is the capability interface the host wallet must provide to let
// the adapter resolve the ownership of transaction inputs and outputs. The
// wallet knows which scripts belong to it and at which derivation path, the
// adapter never reaches into the wallet state directly.
type Keystore interface {
	// Identity returns the stable identifier of the keystore, used to cache
	// one device handle per keystore.
	Identity() string
	// AccountPath returns the account-level derivation prefix of the
	// keystore, like m/44'/5'/0'.
	AccountPath() string
	// AccountKeys returns the account-level extended public keys of all the
	// cosigners, including this keystore's own. A single entry means the
	// keystore is single-sig.
	AccountKeys() []*multisig.AccountKey
	// Threshold returns the number of signatures required to spend, 1 for
	// single-sig keystores.
	Threshold() int
	// IsMine returns whether the given output script belongs to the wallet.
	IsMine(script []byte) bool
	// IsChange returns whether the given output script was derived on the
	// wallet's internal change branch rather than the external receive one.
	IsChange(script []byte) bool
	// FindOwnSuffix returns the (chain, index) path suffix of the given
	// output script relative to the account prefix, when the script belongs
	// to the wallet.
	FindOwnSuffix(script []byte) (path.DerivationPath, bool)
}
