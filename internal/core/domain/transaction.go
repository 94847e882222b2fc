package domain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrMissingInputs         = fmt.Errorf("transaction must have at least one input")
	ErrMissingOutputs        = fmt.Errorf("transaction must have at least one output")
	ErrInvalidNullOutput     = fmt.Errorf("null output script is not a conforming data carrier")
	ErrInvalidSignatureCount = fmt.Errorf("number of signatures must match the number of inputs")
	ErrTxAlreadySigned       = fmt.Errorf("transaction is already fully signed")
)

// Input is the data structure representing an input of the wallet transaction
// to be signed, or of a previously broadcast one referenced by it.
type Input struct {
	PrevHash   chainhash.Hash
	PrevIndex  uint32
	Value      uint64 // in sats, 0 when unknown
	PrevScript []byte // script of the spent output, empty when unknown
	ScriptSig  []byte // set for inputs signed by other means
	Sequence   uint32
	PrevTx     *Transaction // referenced tx, mandatory to sign legacy inputs
}

// IsCoinbase returns whether the input spends the sentinel previous output of
// a coinbase transaction, ie. all-zero hash and maximum index.
func (i Input) IsCoinbase() bool {
	return i.PrevHash == chainhash.Hash{} && i.PrevIndex == wire.MaxPrevOutIndex
}

// Output is the data structure representing an output of a wallet transaction.
type Output struct {
	Value  uint64
	Script []byte
}

// IsNullData returns whether the output is a data carrier, ie. an unspendable
// output whose script embeds an arbitrary payload.
func (o Output) IsNullData() bool {
	return len(o.Script) > 0 && o.Script[0] == txscript.OP_RETURN
}

// NullDataPayload extracts the payload of a data-carrier output. The script
// must be a standard null-data one composed by OP_RETURN followed by exactly
// one data push, and the output must carry no value.
func (o Output) NullDataPayload() ([]byte, error) {
	if o.Value > 0 {
		return nil, ErrInvalidNullOutput
	}
	if txscript.GetScriptClass(o.Script) != txscript.NullDataTy {
		return nil, ErrInvalidNullOutput
	}
	pushes, err := txscript.PushedData(o.Script)
	if err != nil || len(pushes) != 1 {
		return nil, ErrInvalidNullOutput
	}
	return pushes[0], nil
}

// Transaction is the data structure representing a wallet transaction, either
// the one being actively signed or a previously broadcast one referenced by
// its inputs. All instances are built fresh from the wallet state for the
// lifetime of a single operation and are never persisted.
type Transaction struct {
	Version    int32
	LockTime   uint32
	Inputs     []Input
	Outputs    []Output
	Signatures [][]byte
}

// Validate returns whether the transaction is well formed enough to be
// translated for a signing device.
func (t *Transaction) Validate() error {
	if len(t.Inputs) <= 0 {
		return ErrMissingInputs
	}
	if len(t.Outputs) <= 0 {
		return ErrMissingOutputs
	}
	return nil
}

// TxHash returns the hash of the transaction serialized in wire format.
func (t *Transaction) TxHash() chainhash.Hash {
	return t.toWireTx().TxHash()
}

// IsComplete returns whether a signature has been applied for every input.
func (t *Transaction) IsComplete() bool {
	if len(t.Signatures) != len(t.Inputs) {
		return false
	}
	for _, sig := range t.Signatures {
		if len(sig) <= 0 {
			return false
		}
	}
	return true
}

// ApplySignatures stores one signature per input, in input order. Signatures
// are expected to already carry the sighash-type suffix.
func (t *Transaction) ApplySignatures(signatures [][]byte) error {
	if t.IsComplete() {
		return ErrTxAlreadySigned
	}
	if len(signatures) != len(t.Inputs) {
		return ErrInvalidSignatureCount
	}
	t.Signatures = make([][]byte, len(signatures))
	for i, sig := range signatures {
		t.Signatures[i] = make([]byte, len(sig))
		copy(t.Signatures[i], sig)
	}
	return nil
}

func (t *Transaction) toWireTx() *wire.MsgTx {
	tx := wire.NewMsgTx(t.Version)
	tx.LockTime = t.LockTime
	for _, in := range t.Inputs {
		outpoint := wire.NewOutPoint(&in.PrevHash, in.PrevIndex)
		txIn := wire.NewTxIn(outpoint, in.ScriptSig, nil)
		txIn.Sequence = in.Sequence
		tx.AddTxIn(txIn)
	}
	for _, out := range t.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Value), out.Script))
	}
	return tx
}
