package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	appconfig "github.com/altamira-labs/hwsigner/internal/app-config"
	"github.com/altamira-labs/hwsigner/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Config from env vars.
	logLevel       = config.GetInt(config.LogLevelKey)
	network        = config.GetNetwork()
	coinName       = config.GetCoinName()
	accountPath    = config.GetAccountPath()
	deviceType     = config.GetString(config.DeviceTypeKey)
	deviceID       = config.GetString(config.DeviceIDKey)
	sessionTimeout = time.Duration(
		config.GetInt(config.SessionTimeoutKey),
	) * time.Second
	firmwareURL      = config.GetString(config.FirmwareUrlKey)
	emulatedMnemonic = config.GetString(config.EmulatedMnemonicKey)

	rootCmd = &cobra.Command{
		Use:   "hwsigner",
		Short: "CLI for hardware signing devices",
		Long: "This CLI lets you sign transactions and messages, derive keys " +
			"and manage the seed of a hardware signing device",
		Version: formatVersion(),
	}
)

func init() {
	log.SetLevel(log.Level(logLevel))
	rootCmd.AddCommand(deviceCmd, signCmd, deriveCmd, addressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func appConfig() (*appconfig.AppConfig, error) {
	cfg := &appconfig.AppConfig{
		Version:        version,
		Commit:         commit,
		Date:           date,
		Network:        network,
		CoinName:       coinName,
		AccountPath:    accountPath,
		DeviceType:     deviceType,
		SessionTimeout: sessionTimeout,
		FirmwareURL:    firmwareURL,
	}
	if emulatedMnemonic != "" {
		cfg.DeviceConfig = emulatedMnemonic
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func formatVersion() string {
	return fmt.Sprintf(
		"\nVersion: %s\nCommit: %s\nDate: %s", version, commit, date,
	)
}
