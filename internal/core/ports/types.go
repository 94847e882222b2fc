package ports

import (
	"fmt"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrMissingDerivationPath = fmt.Errorf("owned input requires a derivation path")
	ErrMissingAddress        = fmt.Errorf("output requires a destination address")
)

// InputScriptType tells the device how the spent output is unlocked.
type InputScriptType int

const (
	SpendAddress InputScriptType = iota
	SpendMultisig
)

// OutputScriptType tells the device how to build the locking script of an
// output.
type OutputScriptType int

const (
	PayToAddress OutputScriptType = iota
	PayToMultisig
	PayToNullData
)

// TxInput is the device-side description of a transaction input. It is an
// immutable value built in one step by its constructors, which reject
// partially-built invalid states.
type TxInput struct {
	prevHash   chainhash.Hash
	prevIndex  uint32
	amount     uint64
	scriptSig  []byte
	sequence   uint32
	scriptType InputScriptType
	addressN   path.DerivationPath
	ms         *multisig.Descriptor
}

// NewTxInput returns the description of an input without any active-signing
// metadata, as used when translating a referenced transaction or an input not
// owned by this wallet.
func NewTxInput(
	prevHash chainhash.Hash, prevIndex uint32, amount uint64,
	scriptSig []byte, sequence uint32,
) TxInput {
	return TxInput{
		prevHash:  prevHash,
		prevIndex: prevIndex,
		amount:    amount,
		scriptSig: scriptSig,
		sequence:  sequence,
	}
}

// NewCoinbaseTxInput returns the sentinel description of a coinbase input,
// ie. all-zero previous hash and maximum index, with no signing metadata.
func NewCoinbaseTxInput(scriptSig []byte, sequence uint32) TxInput {
	return TxInput{
		prevHash:  chainhash.Hash{},
		prevIndex: wire.MaxPrevOutIndex,
		scriptSig: scriptSig,
		sequence:  sequence,
	}
}

// NewOwnedTxInput returns the description of an input owned by this wallet
// and being actively signed, carrying the signer's full derivation path and
// the multisig descriptor if the spending script involves many cosigners.
func NewOwnedTxInput(
	prevHash chainhash.Hash, prevIndex uint32, amount uint64, sequence uint32,
	scriptType InputScriptType, addressN path.DerivationPath,
	ms *multisig.Descriptor,
) (TxInput, error) {
	if len(addressN) <= 0 {
		return TxInput{}, ErrMissingDerivationPath
	}
	return TxInput{
		prevHash:   prevHash,
		prevIndex:  prevIndex,
		amount:     amount,
		sequence:   sequence,
		scriptType: scriptType,
		addressN:   addressN,
		ms:         ms,
	}, nil
}

func (i TxInput) PrevHash() chainhash.Hash { return i.prevHash }

func (i TxInput) PrevIndex() uint32 { return i.prevIndex }

func (i TxInput) Amount() uint64 { return i.amount }

func (i TxInput) ScriptSig() []byte { return i.scriptSig }

func (i TxInput) Sequence() uint32 { return i.sequence }

func (i TxInput) ScriptType() InputScriptType { return i.scriptType }

func (i TxInput) AddressN() path.DerivationPath { return i.addressN }

func (i TxInput) Multisig() *multisig.Descriptor { return i.ms }

// IsOwned returns whether the input carries active-signing metadata.
func (i TxInput) IsOwned() bool {
	return len(i.addressN) > 0
}

// WithoutSigningMetadata returns a copy of the input stripped of any
// active-signing metadata.
func (i TxInput) WithoutSigningMetadata() TxInput {
	return NewTxInput(i.prevHash, i.prevIndex, i.amount, i.scriptSig, i.sequence)
}

// TxOutput is the device-side description of a transaction output. An output
// is emitted either "by derivation", letting the device re-derive and display
// the destination address itself, or "by explicit address", or as a validated
// null-data payload. Immutable, built in one step.
type TxOutput struct {
	amount     uint64
	scriptType OutputScriptType
	address    string
	addressN   path.DerivationPath
	ms         *multisig.Descriptor
	nullData   []byte
}

// NewAddressTxOutput returns an output paying to an explicit address.
func NewAddressTxOutput(amount uint64, address string) (TxOutput, error) {
	if address == "" {
		return TxOutput{}, ErrMissingAddress
	}
	return TxOutput{
		amount:     amount,
		scriptType: PayToAddress,
		address:    address,
	}, nil
}

// NewDerivedTxOutput returns an output described only by its derivation path,
// omitting the destination address so that the device recomputes and verifies
// it on its own.
func NewDerivedTxOutput(
	amount uint64, scriptType OutputScriptType,
	addressN path.DerivationPath, ms *multisig.Descriptor,
) (TxOutput, error) {
	if len(addressN) <= 0 {
		return TxOutput{}, ErrMissingDerivationPath
	}
	return TxOutput{
		amount:     amount,
		scriptType: scriptType,
		addressN:   addressN,
		ms:         ms,
	}, nil
}

// NewNullDataTxOutput returns a data-carrier output with the given payload.
func NewNullDataTxOutput(payload []byte) TxOutput {
	return TxOutput{
		scriptType: PayToNullData,
		nullData:   payload,
	}
}

func (o TxOutput) Amount() uint64 { return o.amount }

func (o TxOutput) ScriptType() OutputScriptType { return o.scriptType }

func (o TxOutput) Address() string { return o.address }

func (o TxOutput) AddressN() path.DerivationPath { return o.addressN }

func (o TxOutput) Multisig() *multisig.Descriptor { return o.ms }

func (o TxOutput) NullData() []byte { return o.nullData }

// IsDerived returns whether the output is emitted by derivation instead of by
// explicit address.
func (o TxOutput) IsDerived() bool {
	return len(o.addressN) > 0
}

// PrevTxOutput is the bare (amount, script) pair of an output of a referenced
// transaction.
type PrevTxOutput struct {
	Amount uint64
	Script []byte
}

// PrevTx is the device-side description of a previously broadcast transaction
// referenced by an input of the one being signed.
type PrevTx struct {
	Version  int32
	LockTime uint32
	Inputs   []TxInput
	Outputs  []PrevTxOutput
}
