package application_test

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip32"

	"github.com/altamira-labs/hwsigner/internal/core/application"
	"github.com/altamira-labs/hwsigner/internal/core/domain"
	"github.com/altamira-labs/hwsigner/internal/core/ports"
	emulated_device "github.com/altamira-labs/hwsigner/internal/infrastructure/device/emulated"
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
)

func TestSignTransaction(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	ownScript := testOwnScript(t, 0, 0)
	changeScript := testOwnScript(t, 1, 0)
	ks.track(ownScript, path.DerivationPath{0, 0})
	ks.track(changeScript, path.DerivationPath{1, 0})

	tx := newTestTx(t, ownScript, 100_000_000, []domain.Output{
		{Value: 60_000_000, Script: externalScript(t, "destination")},
		{Value: 39_990_000, Script: changeScript},
	})

	err := svc.SignTransaction(ctx, ks, tx)
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)
	require.True(t, tx.IsComplete())

	sig := tx.Signatures[0]
	require.NotEmpty(t, sig)
	require.Equal(t, byte(txscript.SigHashAll), sig[len(sig)-1])
	verifySignature(t, tx, 0, sig, ownScript, testPubKey(t, 0, 0))

	// signing a complete transaction is a no-op
	err = svc.SignTransaction(ctx, ks, tx)
	require.NoError(t, err)
}

func TestSignTransactionWithDataCarrier(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	ownScript := testOwnScript(t, 0, 1)
	ks.track(ownScript, path.DerivationPath{0, 1})

	nullDataScript, err := txscript.NullDataScript([]byte("proof of burn"))
	require.NoError(t, err)

	tx := newTestTx(t, ownScript, 10_000, []domain.Output{
		{Value: 9_000, Script: externalScript(t, "destination")},
		{Value: 0, Script: nullDataScript},
	})

	err = svc.SignTransaction(ctx, ks, tx)
	require.NoError(t, err)
	require.True(t, tx.IsComplete())
}

func TestSignTransactionInvalidDataCarrier(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	ownScript := testOwnScript(t, 0, 1)
	ks.track(ownScript, path.DerivationPath{0, 1})

	nullDataScript, err := txscript.NullDataScript([]byte("payload"))
	require.NoError(t, err)

	// a data carrier holding value must abort before reaching the device
	tx := newTestTx(t, ownScript, 10_000, []domain.Output{
		{Value: 1_000, Script: nullDataScript},
	})

	err = svc.SignTransaction(ctx, ks, tx)
	require.ErrorIs(t, err, domain.ErrInvalidNullOutput)
	require.Empty(t, tx.Signatures)
}

func TestSignTransactionMultisig(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)

	ownKey, err := multisig.NewAccountKey(testAccountXpub(t))
	require.NoError(t, err)
	otherKey := newCosignerKey(t, 0x02)

	ks := newTestKeystore(t)
	ks.keys = []*multisig.AccountKey{ownKey, otherKey}
	ks.threshold = 2

	suffix := path.DerivationPath{0, 0}
	redeemScript := multisigRedeemScript(t, ks.keys, suffix, 2)
	p2shScript := p2shScriptOf(t, redeemScript)
	ks.track(p2shScript, suffix)

	tx := newTestTx(t, p2shScript, 50_000_000, []domain.Output{
		{Value: 49_990_000, Script: externalScript(t, "multisig destination")},
	})

	err = svc.SignTransaction(ctx, ks, tx)
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 1)

	sig := tx.Signatures[0]
	require.Equal(t, byte(txscript.SigHashAll), sig[len(sig)-1])
	verifySignature(t, tx, 0, sig, redeemScript, testPubKey(t, 0, 0))
}

func TestSignTransactionForeignMultisig(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)

	ks := newTestKeystore(t)
	ks.keys = []*multisig.AccountKey{
		newCosignerKey(t, 0x03), newCosignerKey(t, 0x04),
	}
	ks.threshold = 2

	suffix := path.DerivationPath{0, 0}
	redeemScript := multisigRedeemScript(t, ks.keys, suffix, 2)
	p2shScript := p2shScriptOf(t, redeemScript)
	ks.track(p2shScript, suffix)

	tx := newTestTx(t, p2shScript, 50_000_000, []domain.Output{
		{Value: 49_990_000, Script: externalScript(t, "destination")},
	})

	err := svc.SignTransaction(ctx, ks, tx)
	require.ErrorIs(t, err, emulated_device.ErrForeignMultisig)
	require.Empty(t, tx.Signatures)
}

func TestSignTransactionMissingPrevTx(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	ownScript := testOwnScript(t, 0, 0)
	ks.track(ownScript, path.DerivationPath{0, 0})

	tx := newTestTx(t, ownScript, 100_000_000, []domain.Output{
		{Value: 99_990_000, Script: externalScript(t, "destination")},
	})
	tx.Inputs[0].PrevTx = nil

	err := svc.SignTransaction(ctx, ks, tx)
	require.ErrorIs(t, err, application.ErrMissingPrevTxForInput)
	require.Empty(t, tx.Signatures)
}

func TestSignTransactionPrevTxMismatch(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	ownScript := testOwnScript(t, 0, 0)
	ks.track(ownScript, path.DerivationPath{0, 0})

	tx := newTestTx(t, ownScript, 100_000_000, []domain.Output{
		{Value: 99_990_000, Script: externalScript(t, "destination")},
	})
	// tamper with the referenced tx so it no longer hashes to the prevout
	tx.Inputs[0].PrevTx.Outputs[0].Value++

	err := svc.SignTransaction(ctx, ks, tx)
	require.ErrorIs(t, err, emulated_device.ErrPrevTxMismatch)
	require.Empty(t, tx.Signatures)
}

func TestSignTransactionAmountMismatch(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	ownScript := testOwnScript(t, 0, 0)
	ks.track(ownScript, path.DerivationPath{0, 0})

	tx := newTestTx(t, ownScript, 100_000_000, []domain.Output{
		{Value: 99_990_000, Script: externalScript(t, "destination")},
	})
	// claim a different amount than the referenced tx output holds
	tx.Inputs[0].Value = 90_000_000

	err := svc.SignTransaction(ctx, ks, tx)
	require.ErrorIs(t, err, emulated_device.ErrAmountMismatch)
	require.Empty(t, tx.Signatures)
}

func TestSignTransactionDeclined(t *testing.T) {
	svc, connector := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	device, err := connector.Connect(ctx, ks.Identity())
	require.NoError(t, err)
	device.(interface{ Decline(bool) }).Decline(true)

	ownScript := testOwnScript(t, 0, 0)
	ks.track(ownScript, path.DerivationPath{0, 0})

	tx := newTestTx(t, ownScript, 100_000_000, []domain.Output{
		{Value: 99_990_000, Script: externalScript(t, "destination")},
	})

	err = svc.SignTransaction(ctx, ks, tx)
	require.ErrorIs(t, err, ports.ErrUserCancelled)
	require.Empty(t, tx.Signatures)
}

func TestSignMessage(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	message := []byte("attack at dawn")
	signature, err := svc.SignMessage(ctx, ks, 0, 3, message)
	require.NoError(t, err)
	require.NotEmpty(t, signature)

	var buf bytes.Buffer
	wire.WriteVarString(&buf, 0, fmt.Sprintf("%s Signed Message:\n", coinName))
	wire.WriteVarString(&buf, 0, string(message))
	digest := chainhash.DoubleHashB(buf.Bytes())

	pubkey, compressed, err := ecdsa.RecoverCompact(signature, digest)
	require.NoError(t, err)
	require.True(t, compressed)
	require.Equal(t, testPubKey(t, 0, 3), pubkey.SerializeCompressed())
}

func TestDeriveExtendedKey(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)

	xpub, err := svc.DeriveExtendedKey(ctx, "testdevice", testAccountPath, "standard")
	require.NoError(t, err)
	require.Equal(t, testAccountXpub(t), xpub)

	_, err = svc.DeriveExtendedKey(ctx, "testdevice", testAccountPath, "p2wpkh")
	require.ErrorIs(t, err, application.ErrScriptTypeUnsupported)
}

func TestShowAddress(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, testMnemonic)
	ks := newTestKeystore(t)

	address, err := svc.ShowAddress(ctx, ks, 1, 2)
	require.NoError(t, err)

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(testPubKey(t, 1, 2)), regtest,
	)
	require.NoError(t, err)
	require.Equal(t, addr.EncodeAddress(), address)
}

func TestFirmwareTooOld(t *testing.T) {
	svc, _ := newTestService(
		t, ports.FirmwareVersion{Major: 1, Minor: 0, Patch: 0}, testMnemonic,
	)

	_, err := svc.GetDeviceInfo(ctx, "testdevice")
	var fwErr *ports.FirmwareTooOldError
	require.ErrorAs(t, err, &fwErr)
	require.Equal(t, minFirmware, fwErr.Min)
	require.NotEmpty(t, fwErr.UpgradeURL)
}

func TestInitializeAndWipeDevice(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, "")

	info, err := svc.GetDeviceInfo(ctx, "testdevice")
	require.NoError(t, err)
	require.False(t, info.Initialized)

	_, err = svc.DeriveExtendedKey(ctx, "testdevice", testAccountPath, "standard")
	require.ErrorIs(t, err, ports.ErrDeviceNotInitialized)

	err = svc.InitializeDevice(ctx, "testdevice", application.InitDeviceArgs{
		Method:   application.InitMethodMnemonic,
		Mnemonic: testMnemonic,
		Label:    "my signer",
	})
	require.NoError(t, err)

	info, err = svc.GetDeviceInfo(ctx, "testdevice")
	require.NoError(t, err)
	require.True(t, info.Initialized)
	require.Equal(t, "my signer", info.Label)

	xpub, err := svc.DeriveExtendedKey(ctx, "testdevice", testAccountPath, "standard")
	require.NoError(t, err)
	require.Equal(t, testAccountXpub(t), xpub)

	err = svc.WipeDevice(ctx, "testdevice")
	require.NoError(t, err)

	info, err = svc.GetDeviceInfo(ctx, "testdevice")
	require.NoError(t, err)
	require.False(t, info.Initialized)
}

func TestInitializeDeviceInvalidArgs(t *testing.T) {
	svc, _ := newTestService(t, currentFirmware, "")

	tests := []struct {
		name string
		args application.InitDeviceArgs
		err  error
	}{
		{
			name: "invalid entropy strength",
			args: application.InitDeviceArgs{
				Method: application.InitMethodNew, Strength: 100,
			},
			err: application.ErrInvalidStrength,
		},
		{
			name: "invalid word count",
			args: application.InitDeviceArgs{
				Method: application.InitMethodRecover, WordCount: 13,
			},
			err: application.ErrInvalidWordCount,
		},
		{
			name: "invalid mnemonic",
			args: application.InitDeviceArgs{
				Method: application.InitMethodMnemonic, Mnemonic: "foo bar baz",
			},
			err: application.ErrInvalidMnemonic,
		},
		{
			name: "missing xprv",
			args: application.InitDeviceArgs{
				Method: application.InitMethodPrivateKey,
			},
			err: application.ErrMissingXprv,
		},
		{
			name: "label too long",
			args: application.InitDeviceArgs{
				Method: application.InitMethodNew, Strength: 128,
				Label: "a very long label that no device screen could ever display",
			},
			err: application.ErrLabelTooLong,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.InitializeDevice(ctx, "testdevice", tt.args)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func newTestTx(
	t *testing.T, ownScript []byte, amount uint64, outputs []domain.Output,
) *domain.Transaction {
	prevTx := &domain.Transaction{
		Version: 1,
		Inputs: []domain.Input{{
			PrevHash: chainhash.HashH([]byte("funding")),
			Sequence: wire.MaxTxInSequenceNum,
		}},
		Outputs: []domain.Output{{Value: amount, Script: ownScript}},
	}
	return &domain.Transaction{
		Version: 1,
		Inputs: []domain.Input{{
			PrevHash:   prevTx.TxHash(),
			PrevIndex:  0,
			Value:      amount,
			PrevScript: ownScript,
			Sequence:   wire.MaxTxInSequenceNum,
			PrevTx:     prevTx,
		}},
		Outputs: outputs,
	}
}

// verifySignature checks the device signature against the digest of the
// transaction rebuilt host-side.
func verifySignature(
	t *testing.T, tx *domain.Transaction, inputIndex int, sig, subScript,
	pubKeyBytes []byte,
) {
	wireTx := wire.NewMsgTx(tx.Version)
	wireTx.LockTime = tx.LockTime
	for _, in := range tx.Inputs {
		prevHash := in.PrevHash
		outpoint := wire.NewOutPoint(&prevHash, in.PrevIndex)
		txIn := wire.NewTxIn(outpoint, nil, nil)
		txIn.Sequence = in.Sequence
		wireTx.AddTxIn(txIn)
	}
	for _, out := range tx.Outputs {
		wireTx.AddTxOut(wire.NewTxOut(int64(out.Value), out.Script))
	}

	digest, err := txscript.CalcSignatureHash(
		subScript, txscript.SigHashAll, wireTx, inputIndex,
	)
	require.NoError(t, err)

	parsedSig, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	require.NoError(t, err)
	pubkey, err := btcec.ParsePubKey(pubKeyBytes)
	require.NoError(t, err)
	require.True(t, parsedSig.Verify(digest, pubkey))
}

func newCosignerKey(t *testing.T, seedByte byte) *multisig.AccountKey {
	seed := bytes.Repeat([]byte{seedByte}, 32)
	master, err := bip32.NewMasterKey(seed)
	require.NoError(t, err)
	key, err := multisig.NewAccountKey(master.PublicKey().B58Serialize())
	require.NoError(t, err)
	return key
}

func multisigRedeemScript(
	t *testing.T, keys []*multisig.AccountKey, suffix path.DerivationPath,
	threshold int,
) []byte {
	pubkeys := make([][]byte, 0, len(keys))
	for _, key := range keys {
		pubkey, err := key.DerivePublicKey(suffix)
		require.NoError(t, err)
		pubkeys = append(pubkeys, pubkey)
	}
	sort.Slice(pubkeys, func(i, j int) bool {
		return bytes.Compare(pubkeys[i], pubkeys[j]) < 0
	})

	addrPubKeys := make([]*btcutil.AddressPubKey, 0, len(pubkeys))
	for _, pubkey := range pubkeys {
		addrPubKey, err := btcutil.NewAddressPubKey(pubkey, regtest)
		require.NoError(t, err)
		addrPubKeys = append(addrPubKeys, addrPubKey)
	}
	redeemScript, err := txscript.MultiSigScript(addrPubKeys, threshold)
	require.NoError(t, err)
	return redeemScript
}

func p2shScriptOf(t *testing.T, redeemScript []byte) []byte {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, regtest)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}
