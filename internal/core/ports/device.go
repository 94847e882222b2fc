package ports

import (
	"context"
	"fmt"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	ErrUserCancelled        = fmt.Errorf("request cancelled by user on device")
	ErrDeviceUnavailable    = fmt.Errorf("device is unavailable or disconnected")
	ErrDeviceNotInitialized = fmt.Errorf("device is not initialized with a seed")
	ErrMissingPrevTx        = fmt.Errorf("device requested a previous transaction missing from the session cache")
)

// FirmwareTooOldError is returned when the device firmware doesn't meet the
// minimum version required by an operation.
type FirmwareTooOldError struct {
	Current, Min FirmwareVersion
	UpgradeURL   string
}

func (e *FirmwareTooOldError) Error() string {
	return fmt.Sprintf(
		"outdated device firmware %s, at least %s is required, please download "+
			"the updated firmware from %s",
		e.Current, e.Min, e.UpgradeURL,
	)
}

// FirmwareVersion is the semantic version of the device firmware.
type FirmwareVersion struct {
	Major, Minor, Patch int
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast returns whether the version is equal or newer than the given one.
func (v FirmwareVersion) AtLeast(min FirmwareVersion) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	if v.Minor != min.Minor {
		return v.Minor > min.Minor
	}
	return v.Patch >= min.Patch
}

// DeviceInfo holds the features advertised by a device when queried.
type DeviceInfo struct {
	ID          string
	Label       string
	Initialized bool
	Firmware    FirmwareVersion
}

// PrevTxResolver answers a device callback requesting a previously broadcast
// transaction by hash. The device issues zero or more of these requests in
// the middle of a signing session to verify the claimed amount of legacy
// inputs. Returning an error aborts the whole session.
type PrevTxResolver func(txHash chainhash.Hash) (*PrevTx, error)

type ResetDeviceArgs struct {
	Strength             int // entropy bits: 128, 192 or 256
	Label                string
	PIN                  string
	PassphraseProtection bool
}

type RecoverDeviceArgs struct {
	WordCount            int // 12, 18 or 24
	Label                string
	PIN                  string
	PassphraseProtection bool
}

type LoadDeviceArgs struct {
	Mnemonic             string // BIP39 mnemonic, mutually exclusive with Xprv
	Xprv                 string // master extended private key
	Label                string
	PIN                  string
	PassphraseProtection bool
}

// Device is the protocol spoken with a signing device, treated as a black
// box: transport, framing and on-device algorithms belong to the device
// implementation. All methods are blocking since the device may wait on
// physical user interaction with unbounded latency, and must never be called
// from a caller's primary thread. The protocol offers no mid-call abort, the
// context is honored only up to the point the request is handed to the
// transport.
type Device interface {
	Features(ctx context.Context) (*DeviceInfo, error)
	Ping(ctx context.Context, message string) error
	GetExtendedKey(
		ctx context.Context, derivationPath path.DerivationPath,
	) (string, error)
	GetAddress(
		ctx context.Context, coin string, derivationPath path.DerivationPath,
		display bool, scriptType InputScriptType, ms *multisig.Descriptor,
	) (string, error)
	SignMessage(
		ctx context.Context, coin string, derivationPath path.DerivationPath,
		message []byte,
	) ([]byte, error)
	SignTx(
		ctx context.Context, coin string, inputs []TxInput, outputs []TxOutput,
		version int32, lockTime uint32, resolvePrevTx PrevTxResolver,
	) ([][]byte, error)
	ResetDevice(ctx context.Context, args ResetDeviceArgs) error
	RecoverDevice(ctx context.Context, args RecoverDeviceArgs) error
	LoadDevice(ctx context.Context, args LoadDeviceArgs) error
	WipeDevice(ctx context.Context) error
	Close() error
}

// DeviceConnector abstracts the discovery and pairing of a physical device.
// Connecting is blocking I/O with user-interaction latency.
type DeviceConnector interface {
	Connect(ctx context.Context, deviceID string) (Device, error)
}
