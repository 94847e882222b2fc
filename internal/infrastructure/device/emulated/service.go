package emulated_device

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/altamira-labs/hwsigner/internal/core/ports"
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrAmountMismatch = fmt.Errorf(
		"input amount doesn't match the referenced transaction output",
	)
	ErrPrevTxMismatch = fmt.Errorf(
		"referenced transaction doesn't hash to the requested prevout hash",
	)
	ErrBadPrevIndex = fmt.Errorf(
		"input prevout index exceeds the referenced transaction outputs",
	)
	ErrUnsortedMultisig = fmt.Errorf(
		"multisig cosigner keys are not in canonical order",
	)
	ErrForeignMultisig = fmt.Errorf(
		"none of the multisig cosigner keys belongs to this device",
	)
	ErrTooManyDerivedOutputs = fmt.Errorf(
		"only one output can be verified as change by derivation",
	)
)

type ServiceArgs struct {
	ID       string
	Label    string
	Firmware ports.FirmwareVersion
	Net      *chaincfg.Params
	Mnemonic string // optional, leaves the device uninitialized if empty
}

func (a ServiceArgs) validate() error {
	if a.Net == nil {
		return fmt.Errorf("missing network params")
	}
	if a.Mnemonic != "" && !bip39.IsMnemonicValid(a.Mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	return nil
}

// service is a software implementation of the device protocol, used for
// development and testing in place of a physical device. It reproduces the
// observable behavior of the firmware: referenced-transaction callbacks with
// amount verification, canonical-ordering checks on multisig descriptors, the
// single verified-change-output restriction and user confirmation, simulated
// through the Decline knob.
type service struct {
	id       string
	label    string
	firmware ports.FirmwareVersion
	net      *chaincfg.Params

	lock    sync.Mutex
	master  *hdkeychain.ExtendedKey
	decline bool
	closed  bool
}

// NewService returns an emulated device. It implements ports.Device.
func NewService(args ServiceArgs) (*service, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}

	svc := &service{
		id:       args.ID,
		label:    args.Label,
		firmware: args.Firmware,
		net:      args.Net,
	}
	if args.Mnemonic != "" {
		seed := bip39.NewSeed(args.Mnemonic, "")
		master, err := hdkeychain.NewMaster(seed, args.Net)
		if err != nil {
			return nil, err
		}
		svc.master = master
	}
	return svc, nil
}

// Decline makes every subsequent user interaction be declined on-device.
func (s *service) Decline(decline bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.decline = decline
}

func (s *service) Features(_ context.Context) (*ports.DeviceInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return &ports.DeviceInfo{
		ID:          s.id,
		Label:       s.label,
		Initialized: s.master != nil,
		Firmware:    s.firmware,
	}, nil
}

func (s *service) Ping(_ context.Context, _ string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ports.ErrDeviceUnavailable
	}
	return nil
}

func (s *service) GetExtendedKey(
	_ context.Context, derivationPath path.DerivationPath,
) (string, error) {
	master, err := s.masterKey()
	if err != nil {
		return "", err
	}
	node, err := deriveNode(master, derivationPath)
	if err != nil {
		return "", err
	}
	xpub, err := node.Neuter()
	if err != nil {
		return "", err
	}
	return xpub.String(), nil
}

func (s *service) GetAddress(
	_ context.Context, _ string, derivationPath path.DerivationPath,
	display bool, scriptType ports.InputScriptType, ms *multisig.Descriptor,
) (string, error) {
	master, err := s.masterKey()
	if err != nil {
		return "", err
	}
	if display && s.userDeclined() {
		return "", ports.ErrUserCancelled
	}

	if scriptType == ports.SpendMultisig && ms != nil {
		redeemScript, err := s.multisigRedeemScript(ms)
		if err != nil {
			return "", err
		}
		addr, err := btcutil.NewAddressScriptHash(redeemScript, s.net)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	}

	pubkey, err := derivePubKey(master, derivationPath)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubkey.SerializeCompressed()), s.net,
	)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func (s *service) SignMessage(
	_ context.Context, coin string, derivationPath path.DerivationPath,
	message []byte,
) ([]byte, error) {
	master, err := s.masterKey()
	if err != nil {
		return nil, err
	}
	if s.userDeclined() {
		return nil, ports.ErrUserCancelled
	}

	privKey, err := derivePrivKey(master, derivationPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	magic := fmt.Sprintf("%s Signed Message:\n", coin)
	wire.WriteVarString(&buf, 0, magic)
	wire.WriteVarString(&buf, 0, string(message))
	digest := chainhash.DoubleHashB(buf.Bytes())

	sig, err := ecdsa.SignCompact(privKey, digest, true)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

func (s *service) SignTx(
	_ context.Context, _ string, inputs []ports.TxInput,
	outputs []ports.TxOutput, version int32, lockTime uint32,
	resolvePrevTx ports.PrevTxResolver,
) ([][]byte, error) {
	master, err := s.masterKey()
	if err != nil {
		return nil, err
	}

	prevOutputs, err := s.fetchPrevTxs(inputs, resolvePrevTx)
	if err != nil {
		return nil, err
	}

	unsignedTx, subScripts, err := s.buildUnsignedTx(
		master, inputs, outputs, version, lockTime,
	)
	if err != nil {
		return nil, err
	}

	// amount verification over the referenced transactions
	for _, in := range inputs {
		if in.PrevHash() == (chainhash.Hash{}) {
			continue
		}
		outs := prevOutputs[in.PrevHash()]
		if int(in.PrevIndex()) >= len(outs) {
			return nil, ErrBadPrevIndex
		}
		if in.Amount() > 0 && in.Amount() != outs[in.PrevIndex()].Amount {
			return nil, ErrAmountMismatch
		}
	}

	// the user confirms or declines the whole transaction on-device
	if s.userDeclined() {
		return nil, ports.ErrUserCancelled
	}

	signatures := make([][]byte, len(inputs))
	for i, in := range inputs {
		if !in.IsOwned() {
			signatures[i] = []byte{}
			continue
		}
		privKey, err := derivePrivKey(master, in.AddressN())
		if err != nil {
			return nil, err
		}
		digest, err := txscript.CalcSignatureHash(
			subScripts[i], txscript.SigHashAll, unsignedTx, i,
		)
		if err != nil {
			return nil, err
		}
		sig := ecdsa.Sign(privKey, digest)
		signatures[i] = sig.Serialize()
	}

	log.Debugf(
		"emulated device %s: signed tx with %d input(s)", s.id, len(inputs),
	)
	return signatures, nil
}

func (s *service) ResetDevice(
	_ context.Context, args ports.ResetDeviceArgs,
) error {
	entropy, err := bip39.NewEntropy(args.Strength)
	if err != nil {
		return err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return err
	}
	return s.loadSeed(mnemonic, args.Label)
}

func (s *service) RecoverDevice(
	_ context.Context, args ports.RecoverDeviceArgs,
) error {
	// words are entered on the device itself, the emulation just rolls a
	// fresh seed of the requested length
	entropy, err := bip39.NewEntropy(args.WordCount / 3 * 32)
	if err != nil {
		return err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return err
	}
	return s.loadSeed(mnemonic, args.Label)
}

func (s *service) LoadDevice(
	_ context.Context, args ports.LoadDeviceArgs,
) error {
	if args.Xprv != "" {
		master, err := hdkeychain.NewKeyFromString(args.Xprv)
		if err != nil {
			return err
		}
		s.lock.Lock()
		defer s.lock.Unlock()
		if s.decline {
			return ports.ErrUserCancelled
		}
		s.master = master
		s.label = args.Label
		return nil
	}

	if !bip39.IsMnemonicValid(args.Mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	return s.loadSeed(args.Mnemonic, args.Label)
}

func (s *service) WipeDevice(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.decline {
		return ports.ErrUserCancelled
	}
	s.master = nil
	return nil
}

func (s *service) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

func (s *service) reopen() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = false
}

func (s *service) masterKey() (*hdkeychain.ExtendedKey, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil, ports.ErrDeviceUnavailable
	}
	if s.master == nil {
		return nil, ports.ErrDeviceNotInitialized
	}
	return s.master, nil
}

func (s *service) userDeclined() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.decline
}

func (s *service) loadSeed(mnemonic, label string) error {
	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, s.net)
	if err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.decline {
		return ports.ErrUserCancelled
	}
	s.master = master
	if label != "" {
		s.label = label
	}
	return nil
}

// fetchPrevTxs requests every distinct referenced transaction through the
// session callback and verifies it hashes to the requested prevout hash.
func (s *service) fetchPrevTxs(
	inputs []ports.TxInput, resolvePrevTx ports.PrevTxResolver,
) (map[chainhash.Hash][]ports.PrevTxOutput, error) {
	prevOutputs := make(map[chainhash.Hash][]ports.PrevTxOutput)
	for _, in := range inputs {
		prevHash := in.PrevHash()
		if prevHash == (chainhash.Hash{}) {
			continue
		}
		if _, ok := prevOutputs[prevHash]; ok {
			continue
		}
		prevTx, err := resolvePrevTx(prevHash)
		if err != nil {
			return nil, err
		}
		if prevTxHash(prevTx) != prevHash {
			return nil, ErrPrevTxMismatch
		}
		prevOutputs[prevHash] = prevTx.Outputs
	}
	return prevOutputs, nil
}

// buildUnsignedTx rebuilds the transaction on the device side, deriving the
// scripts of by-derivation outputs on its own, and returns the spending
// script to sign against for every owned input.
func (s *service) buildUnsignedTx(
	master *hdkeychain.ExtendedKey, inputs []ports.TxInput,
	outputs []ports.TxOutput, version int32, lockTime uint32,
) (*wire.MsgTx, [][]byte, error) {
	tx := wire.NewMsgTx(version)
	tx.LockTime = lockTime

	subScripts := make([][]byte, len(inputs))
	for i, in := range inputs {
		prevHash := in.PrevHash()
		outpoint := wire.NewOutPoint(&prevHash, in.PrevIndex())
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = in.Sequence()
		tx.AddTxIn(txIn)

		if !in.IsOwned() {
			continue
		}
		subScript, err := s.inputSubScript(master, in)
		if err != nil {
			return nil, nil, err
		}
		subScripts[i] = subScript
	}

	derivedOutputs := 0
	for _, out := range outputs {
		script, err := s.outputScript(master, out)
		if err != nil {
			return nil, nil, err
		}
		if out.IsDerived() {
			derivedOutputs++
			if derivedOutputs > 1 {
				return nil, nil, ErrTooManyDerivedOutputs
			}
		}
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount()), script))
	}
	return tx, subScripts, nil
}

func (s *service) inputSubScript(
	master *hdkeychain.ExtendedKey, in ports.TxInput,
) ([]byte, error) {
	if in.ScriptType() == ports.SpendMultisig && in.Multisig() != nil {
		ownPubKey, err := derivePubKey(master, in.AddressN())
		if err != nil {
			return nil, err
		}
		if !s.ownsMultisig(in.Multisig(), ownPubKey.SerializeCompressed()) {
			return nil, ErrForeignMultisig
		}
		return s.multisigRedeemScript(in.Multisig())
	}
	pubkey, err := derivePubKey(master, in.AddressN())
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubkey.SerializeCompressed()), s.net,
	)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

func (s *service) outputScript(
	master *hdkeychain.ExtendedKey, out ports.TxOutput,
) ([]byte, error) {
	switch {
	case out.ScriptType() == ports.PayToNullData:
		return txscript.NullDataScript(out.NullData())
	case out.IsDerived() && out.ScriptType() == ports.PayToMultisig:
		redeemScript, err := s.multisigRedeemScript(out.Multisig())
		if err != nil {
			return nil, err
		}
		addr, err := btcutil.NewAddressScriptHash(redeemScript, s.net)
		if err != nil {
			return nil, err
		}
		return txscript.PayToAddrScript(addr)
	case out.IsDerived():
		pubkey, err := derivePubKey(master, out.AddressN())
		if err != nil {
			return nil, err
		}
		addr, err := btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(pubkey.SerializeCompressed()), s.net,
		)
		if err != nil {
			return nil, err
		}
		return txscript.PayToAddrScript(addr)
	default:
		addr, err := btcutil.DecodeAddress(out.Address(), s.net)
		if err != nil {
			return nil, err
		}
		return txscript.PayToAddrScript(addr)
	}
}

// ownsMultisig returns whether the key this device derives at the signing
// path is one of the descriptor cosigners.
func (s *service) ownsMultisig(ms *multisig.Descriptor, ownPubKey []byte) bool {
	for _, cosigner := range ms.Cosigners {
		pubkey, err := cosigner.Key.DerivePublicKey(cosigner.Suffix)
		if err != nil {
			continue
		}
		if bytes.Equal(pubkey, ownPubKey) {
			return true
		}
	}
	return false
}

// multisigRedeemScript rebuilds the redeem script of a multisig descriptor,
// re-deriving every cosigner key and re-checking the canonical ordering the
// host is required to produce.
func (s *service) multisigRedeemScript(
	ms *multisig.Descriptor,
) ([]byte, error) {
	pubkeys := make([][]byte, 0, len(ms.Cosigners))
	for _, cosigner := range ms.Cosigners {
		pubkey, err := cosigner.Key.DerivePublicKey(cosigner.Suffix)
		if err != nil {
			return nil, err
		}
		pubkeys = append(pubkeys, pubkey)
	}
	for i := 1; i < len(pubkeys); i++ {
		if bytes.Compare(pubkeys[i-1], pubkeys[i]) > 0 {
			return nil, ErrUnsortedMultisig
		}
	}

	addrPubKeys := make([]*btcutil.AddressPubKey, 0, len(pubkeys))
	for _, pubkey := range pubkeys {
		addrPubKey, err := btcutil.NewAddressPubKey(pubkey, s.net)
		if err != nil {
			return nil, err
		}
		addrPubKeys = append(addrPubKeys, addrPubKey)
	}
	return txscript.MultiSigScript(addrPubKeys, ms.Threshold)
}

func prevTxHash(prevTx *ports.PrevTx) chainhash.Hash {
	tx := wire.NewMsgTx(prevTx.Version)
	tx.LockTime = prevTx.LockTime
	for _, in := range prevTx.Inputs {
		prevHash := in.PrevHash()
		outpoint := wire.NewOutPoint(&prevHash, in.PrevIndex())
		txIn := wire.NewTxIn(outpoint, in.ScriptSig(), nil)
		txIn.Sequence = in.Sequence()
		tx.AddTxIn(txIn)
	}
	for _, out := range prevTx.Outputs {
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), out.Script))
	}
	return tx.TxHash()
}

func deriveNode(
	master *hdkeychain.ExtendedKey, derivationPath path.DerivationPath,
) (*hdkeychain.ExtendedKey, error) {
	node := master
	for _, step := range derivationPath {
		var err error
		node, err = node.Derive(step)
		if err != nil {
			return nil, err
		}
	}
	return node, nil
}

func derivePrivKey(
	master *hdkeychain.ExtendedKey, derivationPath path.DerivationPath,
) (*btcec.PrivateKey, error) {
	node, err := deriveNode(master, derivationPath)
	if err != nil {
		return nil, err
	}
	return node.ECPrivKey()
}

func derivePubKey(
	master *hdkeychain.ExtendedKey, derivationPath path.DerivationPath,
) (*btcec.PublicKey, error) {
	node, err := deriveNode(master, derivationPath)
	if err != nil {
		return nil, err
	}
	return node.ECPubKey()
}
