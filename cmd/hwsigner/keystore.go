package main

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
)

// accountKeystore is the script-blind keystore view built from the CLI flags,
// enough for the operations that never look at transaction scripts.
type accountKeystore struct {
	accountPath string
	ownKey      *multisig.AccountKey
	keys        []*multisig.AccountKey
	threshold   int
}

func newAccountKeystore() (*accountKeystore, error) {
	ownKey, keys, threshold, err := accountKeys()
	if err != nil {
		return nil, err
	}
	return &accountKeystore{
		accountPath: accountPath,
		ownKey:      ownKey,
		keys:        keys,
		threshold:   threshold,
	}, nil
}

func (k *accountKeystore) Identity() string {
	return hex.EncodeToString(btcutil.Hash160(k.ownKey.PublicKey())[:4])
}

func (k *accountKeystore) AccountPath() string {
	return k.accountPath
}

func (k *accountKeystore) AccountKeys() []*multisig.AccountKey {
	return k.keys
}

func (k *accountKeystore) Threshold() int {
	return k.threshold
}

func (k *accountKeystore) IsMine(_ []byte) bool {
	return false
}

func (k *accountKeystore) IsChange(_ []byte) bool {
	return false
}

func (k *accountKeystore) FindOwnSuffix(_ []byte) (path.DerivationPath, bool) {
	return nil, false
}
