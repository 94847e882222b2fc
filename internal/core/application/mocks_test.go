package application_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/altamira-labs/hwsigner/internal/core/application"
	"github.com/altamira-labs/hwsigner/internal/core/ports"
	emulated_device "github.com/altamira-labs/hwsigner/internal/infrastructure/device/emulated"
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
)

var (
	ctx     = context.Background()
	regtest = &chaincfg.RegressionNetParams

	coinName        = "Regtest"
	testAccountPath = "m/44'/1'/0'"
	testMnemonic    = "abandon abandon abandon abandon abandon abandon abandon " +
		"abandon abandon abandon abandon about"

	minFirmware     = ports.FirmwareVersion{Major: 1, Minor: 0, Patch: 5}
	currentFirmware = ports.FirmwareVersion{Major: 1, Minor: 1, Patch: 0}
)

type connectorWithKnobs interface {
	ports.DeviceConnector
	FailNextConnections(n int)
}

func newTestService(
	t *testing.T, firmware ports.FirmwareVersion, mnemonic string,
) (*application.SignerService, connectorWithKnobs) {
	connector, err := emulated_device.NewConnector(emulated_device.ConnectorArgs{
		Label:    "emulator",
		Firmware: firmware,
		Net:      regtest,
		Mnemonic: mnemonic,
	})
	require.NoError(t, err)

	svc, err := application.NewSignerService(application.SignerServiceArgs{
		CoinName:    coinName,
		Net:         regtest,
		Connector:   connector,
		MinFirmware: minFirmware,
		FirmwareURL: "https://firmware.test",
	})
	require.NoError(t, err)
	return svc, connector
}

// testKeystore is the wallet-side ownership view used by the tests, built from
// the same seed the emulated device is initialized with.
type testKeystore struct {
	accountPath string
	keys        []*multisig.AccountKey
	threshold   int
	suffixes    map[string]path.DerivationPath
}

func newTestKeystore(t *testing.T) *testKeystore {
	ownKey, err := multisig.NewAccountKey(testAccountXpub(t))
	require.NoError(t, err)
	return &testKeystore{
		accountPath: testAccountPath,
		keys:        []*multisig.AccountKey{ownKey},
		threshold:   1,
		suffixes:    make(map[string]path.DerivationPath),
	}
}

func (k *testKeystore) track(script []byte, suffix path.DerivationPath) {
	k.suffixes[hex.EncodeToString(script)] = suffix
}

func (k *testKeystore) Identity() string {
	return "testdevice"
}

func (k *testKeystore) AccountPath() string {
	return k.accountPath
}

func (k *testKeystore) AccountKeys() []*multisig.AccountKey {
	return k.keys
}

func (k *testKeystore) Threshold() int {
	return k.threshold
}

func (k *testKeystore) IsMine(script []byte) bool {
	_, ok := k.suffixes[hex.EncodeToString(script)]
	return ok
}

func (k *testKeystore) IsChange(script []byte) bool {
	suffix, ok := k.suffixes[hex.EncodeToString(script)]
	return ok && suffix[0] == 1
}

func (k *testKeystore) FindOwnSuffix(script []byte) (path.DerivationPath, bool) {
	suffix, ok := k.suffixes[hex.EncodeToString(script)]
	return suffix, ok
}

func testMaster(t *testing.T) *hdkeychain.ExtendedKey {
	seed := bip39.NewSeed(testMnemonic, "")
	master, err := hdkeychain.NewMaster(seed, regtest)
	require.NoError(t, err)
	return master
}

func testAccountNode(t *testing.T) *hdkeychain.ExtendedKey {
	prefix, err := path.ParseAccountDerivationPath(testAccountPath)
	require.NoError(t, err)

	node := testMaster(t)
	for _, step := range prefix {
		var err error
		node, err = node.Derive(step)
		require.NoError(t, err)
	}
	return node
}

func testAccountXpub(t *testing.T) string {
	xpub, err := testAccountNode(t).Neuter()
	require.NoError(t, err)
	return xpub.String()
}

func testPubKey(t *testing.T, chain, index uint32) []byte {
	node := testAccountNode(t)
	for _, step := range []uint32{chain, index} {
		var err error
		node, err = node.Derive(step)
		require.NoError(t, err)
	}
	pubkey, err := node.ECPubKey()
	require.NoError(t, err)
	return pubkey.SerializeCompressed()
}

func testOwnScript(t *testing.T, chain, index uint32) []byte {
	return p2pkhScript(t, btcutil.Hash160(testPubKey(t, chain, index)))
}

func p2pkhScript(t *testing.T, pubkeyHash []byte) []byte {
	addr, err := btcutil.NewAddressPubKeyHash(pubkeyHash, regtest)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

func externalScript(t *testing.T, seed string) []byte {
	return p2pkhScript(t, btcutil.Hash160([]byte(seed)))
}
