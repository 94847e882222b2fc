package psbt_interface

import (
	"bytes"
	"encoding/hex"
	"fmt"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

const (
	externalChain = 0
	internalChain = 1
)

var (
	ErrMissingOwnKey = fmt.Errorf("own account key must be part of the account keys")
)

// Keystore implements ports.Keystore on top of the BIP32 derivation entries
// a PSBT carries for its inputs and outputs. A script is considered owned
// when the packet declares a derivation path under the account prefix whose
// re-derived public key matches the declared one, so a lying wallet cannot
// trick the signer into treating a foreign script as its own.
type Keystore struct {
	accountPath string
	accountKeys []*multisig.AccountKey
	ownKey      *multisig.AccountKey
	threshold   int
	suffixes    map[string]path.DerivationPath
}

type NewKeystoreArgs struct {
	Packet      *psbt.Packet
	AccountPath string
	AccountKeys []*multisig.AccountKey
	OwnKey      *multisig.AccountKey
	Threshold   int
}

func (a NewKeystoreArgs) validate() error {
	if a.Packet == nil {
		return fmt.Errorf("missing psbt packet")
	}
	if _, err := path.ParseAccountDerivationPath(a.AccountPath); err != nil {
		return err
	}
	if len(a.AccountKeys) <= 0 {
		return fmt.Errorf("missing account keys")
	}
	if a.OwnKey == nil {
		return fmt.Errorf("missing own account key")
	}
	found := false
	for _, key := range a.AccountKeys {
		if key.String() == a.OwnKey.String() {
			found = true
			break
		}
	}
	if !found {
		return ErrMissingOwnKey
	}
	if a.Threshold < 1 || a.Threshold > len(a.AccountKeys) {
		return multisig.ErrInvalidThreshold
	}
	return nil
}

// NewKeystore builds the ownership view of the given PSBT.
func NewKeystore(args NewKeystoreArgs) (*Keystore, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}
	prefix, _ := path.ParseAccountDerivationPath(args.AccountPath)

	ks := &Keystore{
		accountPath: args.AccountPath,
		accountKeys: args.AccountKeys,
		ownKey:      args.OwnKey,
		threshold:   args.Threshold,
		suffixes:    make(map[string]path.DerivationPath),
	}

	packet := args.Packet
	for i, pIn := range packet.Inputs {
		script := inputScript(packet, i)
		if len(script) <= 0 {
			continue
		}
		ks.index(script, prefix, pIn.Bip32Derivation)
	}
	for i, pOut := range packet.Outputs {
		script := packet.UnsignedTx.TxOut[i].PkScript
		ks.index(script, prefix, pOut.Bip32Derivation)
	}
	return ks, nil
}

func (k *Keystore) Identity() string {
	return hex.EncodeToString(btcutil.Hash160(k.ownKey.PublicKey())[:4])
}

func (k *Keystore) AccountPath() string {
	return k.accountPath
}

func (k *Keystore) AccountKeys() []*multisig.AccountKey {
	return k.accountKeys
}

func (k *Keystore) Threshold() int {
	return k.threshold
}

func (k *Keystore) IsMine(script []byte) bool {
	_, ok := k.suffixes[hex.EncodeToString(script)]
	return ok
}

func (k *Keystore) IsChange(script []byte) bool {
	suffix, ok := k.suffixes[hex.EncodeToString(script)]
	return ok && suffix[0] == internalChain
}

func (k *Keystore) FindOwnSuffix(script []byte) (path.DerivationPath, bool) {
	suffix, ok := k.suffixes[hex.EncodeToString(script)]
	return suffix, ok
}

// index records the (chain, index) suffix of the script if one of its
// derivation entries proves it belongs to this keystore account.
func (k *Keystore) index(
	script []byte, prefix path.DerivationPath,
	derivations []*psbt.Bip32Derivation,
) {
	for _, derivation := range derivations {
		fullPath := path.DerivationPath(derivation.Bip32Path)
		if len(fullPath) != len(prefix)+2 {
			continue
		}
		matches := true
		for i, step := range prefix {
			if fullPath[i] != step {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		suffix := fullPath[len(prefix):]
		if suffix[0] != externalChain && suffix[0] != internalChain {
			continue
		}
		pubkey, err := k.ownKey.DerivePublicKey(suffix)
		if err != nil || !bytes.Equal(pubkey, derivation.PubKey) {
			continue
		}
		k.suffixes[hex.EncodeToString(script)] = suffix
		return
	}
}

func inputScript(packet *psbt.Packet, i int) []byte {
	pIn := packet.Inputs[i]
	if pIn.WitnessUtxo != nil {
		return pIn.WitnessUtxo.PkScript
	}
	if pIn.NonWitnessUtxo != nil {
		prevIndex := packet.UnsignedTx.TxIn[i].PreviousOutPoint.Index
		if int(prevIndex) < len(pIn.NonWitnessUtxo.TxOut) {
			return pIn.NonWitnessUtxo.TxOut[prevIndex].PkScript
		}
	}
	return nil
}
