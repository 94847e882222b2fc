package application

import (
	"github.com/altamira-labs/hwsigner/internal/core/ports"
)

// Device initialization methods, mirroring the ways a seed can end up on the
// device. The first two are secure since no secret material ever touches the
// host machine.
type InitMethod int

const (
	// InitMethodNew lets the device generate a completely new seed randomly.
	InitMethodNew InitMethod = iota
	// InitMethodRecover recovers from a seed previously written down, words
	// are entered on the device itself.
	InitMethodRecover
	// InitMethodMnemonic uploads a BIP39 mnemonic from the host to generate
	// the seed.
	InitMethodMnemonic
	// InitMethodPrivateKey uploads a master private key from the host.
	InitMethodPrivateKey
)

// InitDeviceArgs collects the parameters of a device initialization, only
// some of them apply to each method.
type InitDeviceArgs struct {
	Method               InitMethod
	Strength             int    // entropy bits for InitMethodNew
	WordCount            int    // seed length for InitMethodRecover
	Mnemonic             string // for InitMethodMnemonic
	Xprv                 string // for InitMethodPrivateKey
	Label                string
	PIN                  string
	PassphraseProtection bool
}

// BuildInfo holds the version info set at compile time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// DeviceInfo is the view of the features of a paired device.
type DeviceInfo struct {
	ID          string
	Label       string
	Initialized bool
	Firmware    string
}

func deviceInfo(info *ports.DeviceInfo) *DeviceInfo {
	return &DeviceInfo{
		ID:          info.ID,
		Label:       info.Label,
		Initialized: info.Initialized,
		Firmware:    info.Firmware.String(),
	}
}
