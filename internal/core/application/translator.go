package application

import (
	"fmt"

	"github.com/altamira-labs/hwsigner/internal/core/domain"
	"github.com/altamira-labs/hwsigner/internal/core/ports"
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// No more than one output can be emitted by derivation: the device firmware
// verifies a single change output per transaction.
const maxDerivedOutputs = 1

var (
	ErrMissingOwnPath = fmt.Errorf(
		"internal inconsistency: no derivation path found for an owned input or output",
	)
	ErrScriptTypeUnsupported = fmt.Errorf(
		"script type is not supported by this device",
	)
	ErrUnsupportedOutputScript = fmt.Errorf(
		"output script has no address and is not a data carrier",
	)
)

// translator maps the wallet-side transaction model to the request structures
// consumed by a signing device. Pure translation logic, stateless, no I/O.
type translator struct {
	net *chaincfg.Params
}

func newTranslator(net *chaincfg.Params) *translator {
	return &translator{net}
}

// txInputs translates the inputs of a transaction. With forSigning set, the
// inputs owned by the given keystore get the active-signing metadata
// attached: script type, the signer's full derivation path and the multisig
// descriptor whenever the keystore has many cosigners. Without it, ie. when
// describing a referenced transaction, no metadata is attached at all.
func (t *translator) txInputs(
	tx *domain.Transaction, forSigning bool, keystore ports.Keystore,
) ([]ports.TxInput, error) {
	inputs := make([]ports.TxInput, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if in.IsCoinbase() {
			inputs = append(inputs, ports.NewCoinbaseTxInput(in.ScriptSig, in.Sequence))
			continue
		}

		if forSigning && keystore.IsMine(in.PrevScript) {
			suffix, ok := keystore.FindOwnSuffix(in.PrevScript)
			if !ok {
				return nil, ErrMissingOwnPath
			}
			scriptType, err := t.inputScriptType(in.PrevScript)
			if err != nil {
				return nil, err
			}
			ms, err := t.makeMultisig(keystore, suffix)
			if err != nil {
				return nil, err
			}
			fullPath, err := t.fullPath(keystore, suffix)
			if err != nil {
				return nil, err
			}
			input, err := ports.NewOwnedTxInput(
				in.PrevHash, in.PrevIndex, in.Value, in.Sequence,
				scriptType, fullPath, ms,
			)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, input)
			continue
		}

		inputs = append(inputs, ports.NewTxInput(
			in.PrevHash, in.PrevIndex, in.Value, in.ScriptSig, in.Sequence,
		))
	}
	return inputs, nil
}

// txOutputs translates the outputs of the transaction being signed. At most
// one output is emitted by derivation and the slot is assigned to the first
// owned output whose change classification matches the one of the whole
// transaction. Every other output is emitted by explicit address, or as a
// validated data-carrier payload.
func (t *translator) txOutputs(
	tx *domain.Transaction, keystore ports.Keystore,
) ([]ports.TxOutput, error) {
	anyOutputOnChangeBranch := t.isAnyOutputOnChangeBranch(tx, keystore)

	outputs := make([]ports.TxOutput, 0, len(tx.Outputs))
	derivedOutputs := 0
	for _, out := range tx.Outputs {
		useDerivation := false
		if keystore.IsMine(out.Script) && derivedOutputs < maxDerivedOutputs {
			// prioritise hiding outputs on the change branch from the user
			if keystore.IsChange(out.Script) == anyOutputOnChangeBranch {
				useDerivation = true
				derivedOutputs++
			}
		}

		var output ports.TxOutput
		var err error
		if useDerivation {
			output, err = t.outputByDerivation(out, keystore)
		} else {
			output, err = t.outputByAddress(out)
		}
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

// prevTx translates a referenced transaction into the shape the device
// consumes when answering its mid-session callbacks. Inputs are translated in
// reference mode, outputs are reduced to bare (amount, script) pairs.
func (t *translator) prevTx(tx *domain.Transaction) (*ports.PrevTx, error) {
	inputs, err := t.txInputs(tx, false, nil)
	if err != nil {
		return nil, err
	}
	outputs := make([]ports.PrevTxOutput, 0, len(tx.Outputs))
	for _, out := range tx.Outputs {
		outputs = append(outputs, ports.PrevTxOutput{
			Amount: out.Value,
			Script: out.Script,
		})
	}
	return &ports.PrevTx{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Inputs:   inputs,
		Outputs:  outputs,
	}, nil
}

func (t *translator) outputByDerivation(
	out domain.Output, keystore ports.Keystore,
) (ports.TxOutput, error) {
	suffix, ok := keystore.FindOwnSuffix(out.Script)
	if !ok {
		return ports.TxOutput{}, ErrMissingOwnPath
	}
	ms, err := t.makeMultisig(keystore, suffix)
	if err != nil {
		return ports.TxOutput{}, err
	}
	scriptType := ports.PayToAddress
	if ms != nil {
		scriptType = ports.PayToMultisig
	}
	fullPath, err := t.fullPath(keystore, suffix)
	if err != nil {
		return ports.TxOutput{}, err
	}
	return ports.NewDerivedTxOutput(out.Value, scriptType, fullPath, ms)
}

func (t *translator) outputByAddress(out domain.Output) (ports.TxOutput, error) {
	if out.IsNullData() {
		payload, err := out.NullDataPayload()
		if err != nil {
			return ports.TxOutput{}, err
		}
		return ports.NewNullDataTxOutput(payload), nil
	}

	_, addresses, _, err := txscript.ExtractPkScriptAddrs(out.Script, t.net)
	if err != nil || len(addresses) != 1 {
		return ports.TxOutput{}, ErrUnsupportedOutputScript
	}
	return ports.NewAddressTxOutput(out.Value, addresses[0].EncodeAddress())
}

// makeMultisig builds the descriptor of the keystore cosigners at the given
// path suffix, or nil for single-sig keystores.
func (t *translator) makeMultisig(
	keystore ports.Keystore, suffix path.DerivationPath,
) (*multisig.Descriptor, error) {
	accountKeys := keystore.AccountKeys()
	cosigners := make([]multisig.Cosigner, 0, len(accountKeys))
	for _, key := range accountKeys {
		cosigners = append(cosigners, multisig.Cosigner{
			Key:    key,
			Suffix: suffix,
		})
	}
	return multisig.NewDescriptor(keystore.Threshold(), cosigners)
}

func (t *translator) fullPath(
	keystore ports.Keystore, suffix path.DerivationPath,
) (path.DerivationPath, error) {
	prefix, err := path.ParseAccountDerivationPath(keystore.AccountPath())
	if err != nil {
		return nil, err
	}
	return prefix.Extend(suffix...), nil
}

func (t *translator) inputScriptType(script []byte) (ports.InputScriptType, error) {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return ports.SpendAddress, nil
	case txscript.ScriptHashTy:
		return ports.SpendMultisig, nil
	default:
		return 0, ErrScriptTypeUnsupported
	}
}

func (t *translator) isAnyOutputOnChangeBranch(
	tx *domain.Transaction, keystore ports.Keystore,
) bool {
	for _, out := range tx.Outputs {
		if keystore.IsMine(out.Script) && keystore.IsChange(out.Script) {
			return true
		}
	}
	return false
}
