package appconfig

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/altamira-labs/hwsigner/internal/config"
	"github.com/altamira-labs/hwsigner/internal/core/application"
	"github.com/altamira-labs/hwsigner/internal/core/ports"
	emulated_device "github.com/altamira-labs/hwsigner/internal/infrastructure/device/emulated"
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
)

// minFirmware is the oldest firmware the service agrees to drive. Older
// releases mishandle the change output during multisig confirmations.
var minFirmware = ports.FirmwareVersion{Major: 1, Minor: 0, Patch: 5}

// AppConfig is the struct holding all configuration options for the signer
// service. This data structure acts also as a factory of the service and of
// the portable device connector used by it.
// Public config args:
//   - Network - (required) The network params (mainnet, testnet3, regtest).
//   - CoinName - (required) The coin name shown on the device screen during confirmations.
//   - AccountPath - (required) The account derivation prefix of the keystores to serve.
//   - DeviceType - (required) One of the supported device connector types.
//   - SessionTimeout - (optional) Watchdog timeout for blocking device operations. 0 waits forever.
//   - FirmwareURL - (optional) The URL suggested to the user when the firmware is too old.
//   - DeviceConfig - (optional) Custom config args for the device connector based on its type.
type AppConfig struct {
	Version string
	Commit  string
	Date    string

	Network        *chaincfg.Params
	CoinName       string
	AccountPath    string
	SessionTimeout time.Duration
	FirmwareURL    string

	DeviceType   string
	DeviceConfig interface{}

	connector ports.DeviceConnector
	signerSvc *application.SignerService
}

func (c *AppConfig) Validate() error {
	if c.Network == nil {
		return fmt.Errorf("missing network")
	}
	if c.CoinName == "" {
		return fmt.Errorf("missing coin name")
	}
	if c.AccountPath == "" {
		return fmt.Errorf("missing account path")
	}
	if _, err := path.ParseAccountDerivationPath(c.AccountPath); err != nil {
		return err
	}
	if len(c.DeviceType) == 0 {
		return fmt.Errorf("missing device type")
	}
	if _, ok := config.SupportedDevices[c.DeviceType]; !ok {
		return fmt.Errorf(
			"device type not supported, must be one of: %s",
			config.SupportedDevices,
		)
	}
	if _, err := c.deviceConnector(); err != nil {
		return err
	}

	return nil
}

func (c *AppConfig) DeviceConnector() ports.DeviceConnector {
	return c.connector
}

func (c *AppConfig) SignerService() (*application.SignerService, error) {
	return c.signerService()
}

func (c *AppConfig) deviceConnector() (ports.DeviceConnector, error) {
	if c.connector != nil {
		return c.connector, nil
	}

	switch c.DeviceType {
	case "emulated":
		args := emulated_device.ConnectorArgs{
			Label:    "emulator",
			Firmware: ports.FirmwareVersion{Major: 1, Minor: 1, Patch: 0},
			Net:      c.Network,
		}
		if c.DeviceConfig != nil {
			mnemonic, ok := c.DeviceConfig.(string)
			if !ok {
				return nil, fmt.Errorf("invalid device config type, must be string")
			}
			args.Mnemonic = mnemonic
		}
		connector, err := emulated_device.NewConnector(args)
		if err != nil {
			return nil, err
		}
		c.connector = connector
		return c.connector, nil
	default:
		return nil, fmt.Errorf("unknown device type")
	}
}

func (c *AppConfig) signerService() (*application.SignerService, error) {
	if c.signerSvc != nil {
		return c.signerSvc, nil
	}

	connector, err := c.deviceConnector()
	if err != nil {
		return nil, err
	}
	svc, err := application.NewSignerService(application.SignerServiceArgs{
		CoinName:       c.CoinName,
		Net:            c.Network,
		Connector:      connector,
		MinFirmware:    minFirmware,
		FirmwareURL:    c.FirmwareURL,
		SessionTimeout: c.SessionTimeout,
	})
	if err != nil {
		return nil, err
	}
	c.signerSvc = svc
	return c.signerSvc, nil
}

func (c *AppConfig) BuildInfo() application.BuildInfo {
	version := "dev"
	if c.Version != "" {
		version = c.Version
	}
	commit := "none"
	if c.Commit != "" {
		commit = c.Commit
	}
	date := "unknown"
	if c.Date != "" {
		date = c.Date
	}
	return application.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}
}
