package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/altamira-labs/hwsigner/internal/core/application"
)

var (
	initMethod           string
	initStrength         int
	initWordCount        int
	initMnemonic         string
	initXprv             string
	deviceLabel          string
	devicePIN            string
	passphraseProtection bool

	initMethods = map[string]application.InitMethod{
		"new":      application.InitMethodNew,
		"recover":  application.InitMethodRecover,
		"mnemonic": application.InitMethodMnemonic,
		"xprv":     application.InitMethodPrivateKey,
	}

	deviceInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "get info about the device",
		Long: "this command returns the features advertised by the device, like " +
			"its label, firmware version and whether it holds a seed",
		RunE: deviceInfo,
	}
	deviceInitCmd = &cobra.Command{
		Use:   "init",
		Short: "initialize the device with a seed",
		Long: "this command lets you initialize the device with one of the " +
			"supported methods: 'new' generates a random seed on the device, " +
			"'recover' makes the device ask for a seed previously written down, " +
			"'mnemonic' and 'xprv' upload secret material from this host and " +
			"should be used only for testing purposes",
		RunE: deviceInit,
	}
	deviceWipeCmd = &cobra.Command{
		Use:   "wipe",
		Short: "factory-reset the device",
		Long: "this command lets you wipe the seed off the device, bringing it " +
			"back to its factory state",
		RunE: deviceWipe,
	}
	deviceCmd = &cobra.Command{
		Use:   "device",
		Short: "manage the signing device",
		Long: "this command lets you inspect, initialize or wipe the signing " +
			"device",
	}
)

func init() {
	deviceInitCmd.Flags().StringVar(
		&initMethod, "method", "new", "one of: new | recover | mnemonic | xprv",
	)
	deviceInitCmd.Flags().IntVar(
		&initStrength, "strength", 128, "entropy bits for the 'new' method",
	)
	deviceInitCmd.Flags().IntVar(
		&initWordCount, "words", 24, "seed length for the 'recover' method",
	)
	deviceInitCmd.Flags().StringVar(
		&initMnemonic, "mnemonic", "", "BIP39 mnemonic for the 'mnemonic' method",
	)
	deviceInitCmd.Flags().StringVar(
		&initXprv, "xprv", "", "master private key for the 'xprv' method",
	)
	deviceInitCmd.Flags().StringVar(&deviceLabel, "label", "", "device label")
	deviceInitCmd.Flags().StringVar(&devicePIN, "pin", "", "device PIN")
	deviceInitCmd.Flags().BoolVar(
		&passphraseProtection, "passphrase", false, "enable passphrase protection",
	)

	deviceCmd.AddCommand(deviceInfoCmd, deviceInitCmd, deviceWipeCmd)
}

func deviceInfo(cmd *cobra.Command, args []string) error {
	cfg, err := appConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.SignerService()
	if err != nil {
		return err
	}

	info, err := svc.GetDeviceInfo(context.Background(), deviceID)
	if err != nil {
		printErr(err)
		return nil
	}

	reply := struct {
		Build  application.BuildInfo   `json:"build"`
		Device *application.DeviceInfo `json:"device"`
	}{cfg.BuildInfo(), info}

	jsonReply, err := jsonResponse(reply)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(jsonReply)
	return nil
}

func deviceInit(cmd *cobra.Command, args []string) error {
	method, ok := initMethods[initMethod]
	if !ok {
		return fmt.Errorf("unknown method, must be one of: new | recover | mnemonic | xprv")
	}

	cfg, err := appConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.SignerService()
	if err != nil {
		return err
	}

	if err := svc.InitializeDevice(
		context.Background(), deviceID, application.InitDeviceArgs{
			Method:               method,
			Strength:             initStrength,
			WordCount:            initWordCount,
			Mnemonic:             initMnemonic,
			Xprv:                 initXprv,
			Label:                deviceLabel,
			PIN:                  devicePIN,
			PassphraseProtection: passphraseProtection,
		},
	); err != nil {
		printErr(err)
		return nil
	}

	fmt.Println("device initialized")
	return nil
}

func deviceWipe(cmd *cobra.Command, args []string) error {
	cfg, err := appConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.SignerService()
	if err != nil {
		return err
	}

	if err := svc.WipeDevice(context.Background(), deviceID); err != nil {
		printErr(err)
		return nil
	}

	fmt.Println("device wiped")
	return nil
}
