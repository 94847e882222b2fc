package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the key to customize the hwsigner datadir.
	DatadirKey = "DATADIR"
	// NetworkKey is the key to customize the network.
	NetworkKey = "NETWORK"
	// CoinNameKey is the key to customize the coin name advertised to the
	// device, shown on its screen during confirmations.
	CoinNameKey = "COIN_NAME"
	// LogLevelKey is the key to customize the log level to catch more specific
	// or more high level logs.
	LogLevelKey = "LOG_LEVEL"
	// DeviceTypeKey is the key to customize the type of device to talk to.
	DeviceTypeKey = "DEVICE_TYPE"
	// DeviceIDKey is the key to customize the id of the device to pair with.
	DeviceIDKey = "DEVICE_ID"
	// SessionTimeoutKey is the key to customize the watchdog timeout for
	// blocking device operations. 0 waits forever.
	SessionTimeoutKey = "SESSION_TIMEOUT_IN_SECONDS"
	// AccountPathKey is the key to use a custom account derivation prefix,
	// instead of the default m/44'/[0|1]'/0' (depending on network).
	AccountPathKey = "ACCOUNT_PATH"
	// FirmwareUrlKey is the key to customize the URL suggested to the user
	// when the device firmware is below the minimum supported version.
	FirmwareUrlKey = "FIRMWARE_URL"
	// EmulatedMnemonicKey is the key to seed the emulated device with a fixed
	// mnemonic. Should be used only for testing purposes.
	EmulatedMnemonicKey = "EMULATED_MNEMONIC"
)

var (
	vip *viper.Viper

	defaultDatadir        = btcutil.AppDataDir("hwsigner", false)
	defaultNetwork        = chaincfg.MainNetParams.Name
	defaultLogLevel       = 4
	defaultDeviceType     = "emulated"
	defaultDeviceID       = "default"
	defaultSessionTimeout = 0
	defaultFirmwareUrl    = "https://firmware.hwsigner.dev"

	supportedNetworks = map[string]*chaincfg.Params{
		chaincfg.MainNetParams.Name:       &chaincfg.MainNetParams,
		chaincfg.TestNet3Params.Name:      &chaincfg.TestNet3Params,
		chaincfg.RegressionNetParams.Name: &chaincfg.RegressionNetParams,
	}
	coinNameByNetwork = map[string]string{
		chaincfg.MainNetParams.Name:       "Bitcoin",
		chaincfg.TestNet3Params.Name:      "Testnet",
		chaincfg.RegressionNetParams.Name: "Regtest",
	}
	coinTypeByNetwork = map[string]int{
		chaincfg.MainNetParams.Name:       0,
		chaincfg.TestNet3Params.Name:      1,
		chaincfg.RegressionNetParams.Name: 1,
	}
	SupportedDevices = supportedType{
		"emulated": {},
	}
)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("HWSIGNER")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(NetworkKey, defaultNetwork)
	vip.SetDefault(LogLevelKey, defaultLogLevel)
	vip.SetDefault(DeviceTypeKey, defaultDeviceType)
	vip.SetDefault(DeviceIDKey, defaultDeviceID)
	vip.SetDefault(SessionTimeoutKey, defaultSessionTimeout)
	vip.SetDefault(FirmwareUrlKey, defaultFirmwareUrl)

	if err := validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	if err := initDatadir(); err != nil {
		log.Fatalf("config: error while creating datadir: %s", err)
	}
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("datadir must not be null")
	}

	net := GetString(NetworkKey)
	if len(net) == 0 {
		return fmt.Errorf("network must not be null")
	}
	if _, ok := supportedNetworks[net]; !ok {
		nets := make([]string, 0, len(supportedNetworks))
		for net := range supportedNetworks {
			nets = append(nets, net)
		}
		return fmt.Errorf("unknown network, must be one of: %v", nets)
	}

	deviceType := GetString(DeviceTypeKey)
	if _, ok := SupportedDevices[deviceType]; !ok {
		return fmt.Errorf(
			"unsupported device type, must be one of %s", SupportedDevices,
		)
	}

	if timeout := GetInt(SessionTimeoutKey); timeout < 0 {
		return fmt.Errorf("session timeout must not be negative")
	}

	return nil
}

func GetDatadir() string {
	return filepath.Join(GetString(DatadirKey), GetString(NetworkKey))
}

func GetNetwork() *chaincfg.Params {
	return supportedNetworks[GetString(NetworkKey)]
}

func GetCoinName() string {
	if coinName := GetString(CoinNameKey); coinName != "" {
		return coinName
	}
	return coinNameByNetwork[GetString(NetworkKey)]
}

func GetAccountPath() string {
	accountPath := GetString(AccountPathKey)
	if accountPath != "" {
		return accountPath
	}

	coinType := coinTypeByNetwork[GetString(NetworkKey)]
	return fmt.Sprintf("m/44'/%d'/0'", coinType)
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func Set(key string, val interface{}) {
	vip.Set(key, val)
}

func IsSet(key string) bool {
	return vip.IsSet(key)
}

func initDatadir() error {
	return makeDirectoryIfNotExists(GetDatadir())
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}
