package psbt_interface

import (
	"bytes"
	"fmt"

	"github.com/altamira-labs/hwsigner/internal/core/domain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrMissingUtxo = fmt.Errorf(
		"psbt input carries no previous transaction",
	)
	ErrWitnessUtxoNotSupported = fmt.Errorf(
		"psbt input carries only a witness utxo, the full previous transaction " +
			"is required to verify the input amount on the device",
	)
	ErrSignatureCountMismatch = fmt.Errorf(
		"number of applied signatures doesn't match the psbt inputs",
	)
)

// Decode parses a PSBT from its base64 encoding.
func Decode(encoded string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(bytes.NewReader([]byte(encoded)), true)
}

// Encode serializes a PSBT back to base64.
func Encode(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}

// ToTransaction maps a PSBT coming from the host wallet to the internal
// transaction model, carrying over for every input the previously broadcast
// transaction the signing device will ask back during the session. Every
// non-coinbase input must be backed by its full previous transaction: a
// witness utxo alone is not enough for the device to verify the input amount,
// so such packets are rejected upfront instead of failing mid-session.
func ToTransaction(packet *psbt.Packet) (*domain.Transaction, error) {
	unsigned := packet.UnsignedTx

	inputs := make([]domain.Input, 0, len(unsigned.TxIn))
	for i, txIn := range unsigned.TxIn {
		pIn := packet.Inputs[i]
		in := domain.Input{
			PrevHash:  txIn.PreviousOutPoint.Hash,
			PrevIndex: txIn.PreviousOutPoint.Index,
			ScriptSig: pIn.FinalScriptSig,
			Sequence:  txIn.Sequence,
		}
		if in.IsCoinbase() {
			inputs = append(inputs, in)
			continue
		}

		switch {
		case pIn.NonWitnessUtxo != nil:
			prevTx := wireToDomain(pIn.NonWitnessUtxo)
			if int(in.PrevIndex) >= len(prevTx.Outputs) {
				return nil, ErrMissingUtxo
			}
			prevOut := prevTx.Outputs[in.PrevIndex]
			in.Value = prevOut.Value
			in.PrevScript = prevOut.Script
			in.PrevTx = prevTx
		case pIn.WitnessUtxo != nil:
			return nil, ErrWitnessUtxoNotSupported
		default:
			return nil, ErrMissingUtxo
		}
		inputs = append(inputs, in)
	}

	outputs := make([]domain.Output, 0, len(unsigned.TxOut))
	for _, txOut := range unsigned.TxOut {
		outputs = append(outputs, domain.Output{
			Value:  uint64(txOut.Value),
			Script: txOut.PkScript,
		})
	}

	return &domain.Transaction{
		Version:  unsigned.Version,
		LockTime: unsigned.LockTime,
		Inputs:   inputs,
		Outputs:  outputs,
	}, nil
}

// ApplySignatures writes the signatures applied to the transaction back into
// the PSBT as partial signatures, paired with the signer public key derived
// by the keystore.
func ApplySignatures(
	packet *psbt.Packet, tx *domain.Transaction, keystore *Keystore,
) error {
	if len(tx.Signatures) != len(packet.Inputs) {
		return ErrSignatureCountMismatch
	}

	for i, sig := range tx.Signatures {
		if len(sig) <= 0 {
			continue
		}
		suffix, ok := keystore.FindOwnSuffix(tx.Inputs[i].PrevScript)
		if !ok {
			continue
		}
		pubkey, err := keystore.ownKey.DerivePublicKey(suffix)
		if err != nil {
			return err
		}
		packet.Inputs[i].PartialSigs = append(
			packet.Inputs[i].PartialSigs, &psbt.PartialSig{
				PubKey:    pubkey,
				Signature: sig,
			},
		)
	}
	return nil
}

func wireToDomain(tx *wire.MsgTx) *domain.Transaction {
	inputs := make([]domain.Input, 0, len(tx.TxIn))
	for _, txIn := range tx.TxIn {
		inputs = append(inputs, domain.Input{
			PrevHash:  txIn.PreviousOutPoint.Hash,
			PrevIndex: txIn.PreviousOutPoint.Index,
			ScriptSig: txIn.SignatureScript,
			Sequence:  txIn.Sequence,
		})
	}
	outputs := make([]domain.Output, 0, len(tx.TxOut))
	for _, txOut := range tx.TxOut {
		outputs = append(outputs, domain.Output{
			Value:  uint64(txOut.Value),
			Script: txOut.PkScript,
		})
	}
	return &domain.Transaction{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Inputs:   inputs,
		Outputs:  outputs,
	}
}
