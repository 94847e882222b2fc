package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	derivationPath string
	scriptType     string

	deriveCmd = &cobra.Command{
		Use:   "derive",
		Short: "derive an extended public key",
		Long: "this command lets you retrieve from the device the extended " +
			"public key at the given derivation path",
		RunE: derive,
	}
)

func init() {
	deriveCmd.Flags().StringVar(
		&derivationPath, "path", "", "derivation path, like m/44'/0'/0'",
	)
	deriveCmd.Flags().StringVar(
		&scriptType, "script-type", "standard", "one of: standard | p2sh",
	)
	deriveCmd.MarkFlagRequired("path")
}

func derive(cmd *cobra.Command, args []string) error {
	cfg, err := appConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.SignerService()
	if err != nil {
		return err
	}

	xpub, err := svc.DeriveExtendedKey(
		context.Background(), deviceID, derivationPath, scriptType,
	)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(xpub)
	return nil
}
