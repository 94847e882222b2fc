package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	addressCmd = &cobra.Command{
		Use:   "address",
		Short: "show an address on the device screen",
		Long: "this command derives the address of the account at the given " +
			"chain and index and makes the device display it, so it can be " +
			"verified out-of-band against the one shown by the host wallet",
		RunE: showAddress,
	}
)

func init() {
	addressCmd.Flags().Uint32Var(
		&chain, "chain", 0, "account chain, 0 external or 1 internal",
	)
	addressCmd.Flags().Uint32Var(&index, "index", 0, "address index")
	addressCmd.Flags().StringVar(&flagXpub, "xpub", "", "own account xpub")
	addressCmd.Flags().StringSliceVar(
		&flagCosigners, "cosigner-xpub", nil, "cosigner account xpub, repeatable",
	)
	addressCmd.Flags().IntVar(
		&flagThreshold, "threshold", 0,
		"multisig threshold, defaults to the number of account keys",
	)
	addressCmd.MarkFlagRequired("xpub")
}

func showAddress(cmd *cobra.Command, args []string) error {
	cfg, err := appConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.SignerService()
	if err != nil {
		return err
	}

	keystore, err := newAccountKeystore()
	if err != nil {
		return err
	}

	address, err := svc.ShowAddress(
		context.Background(), keystore, chain, index,
	)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(address)
	return nil
}
