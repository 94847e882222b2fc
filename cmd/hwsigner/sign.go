package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	psbt_interface "github.com/altamira-labs/hwsigner/internal/interfaces/psbt"
)

var (
	psbtFile string
	message  string
	chain    uint32
	index    uint32

	signTxCmd = &cobra.Command{
		Use:   "tx <base64 psbt>",
		Short: "sign a transaction",
		Long: "this command lets you sign the given PSBT with the device, " +
			"the signatures are added to the packet as partial signatures. " +
			"Every legacy input must carry its previous transaction, the device " +
			"requests them back to verify the input amounts",
		RunE: signTx,
	}
	signMessageCmd = &cobra.Command{
		Use:   "message",
		Short: "sign a message",
		Long: "this command lets you sign an arbitrary message with the account " +
			"key at the given chain and index, using the coin-specific magic",
		RunE: signMessage,
	}
	signCmd = &cobra.Command{
		Use:   "sign",
		Short: "sign transactions or messages with the device",
		Long: "this command lets you sign a PSBT or an arbitrary message with " +
			"keys derived on the device",
	}
)

func init() {
	signTxCmd.Flags().StringVar(
		&psbtFile, "file", "", "read the base64 PSBT from file instead of args",
	)
	signMessageCmd.Flags().StringVar(&message, "message", "", "message to sign")
	signMessageCmd.Flags().Uint32Var(
		&chain, "chain", 0, "account chain, 0 external or 1 internal",
	)
	signMessageCmd.Flags().Uint32Var(&index, "index", 0, "address index")
	signMessageCmd.MarkFlagRequired("message")

	for _, cmd := range []*cobra.Command{signTxCmd, signMessageCmd} {
		cmd.Flags().StringVar(&flagXpub, "xpub", "", "own account xpub")
		cmd.Flags().StringSliceVar(
			&flagCosigners, "cosigner-xpub", nil, "cosigner account xpub, repeatable",
		)
		cmd.Flags().IntVar(
			&flagThreshold, "threshold", 0,
			"multisig threshold, defaults to the number of account keys",
		)
		cmd.MarkFlagRequired("xpub")
	}

	signCmd.AddCommand(signTxCmd, signMessageCmd)
}

func signTx(cmd *cobra.Command, args []string) error {
	encodedPsbt, err := psbtFromArgs(args)
	if err != nil {
		return err
	}

	cfg, err := appConfig()
	if err != nil {
		return err
	}
	svc, err := cfg.SignerService()
	if err != nil {
		return err
	}

	ownKey, keys, threshold, err := accountKeys()
	if err != nil {
		return err
	}

	packet, err := psbt_interface.Decode(encodedPsbt)
	if err != nil {
		printErr(err)
		return nil
	}
	keystore, err := psbt_interface.NewKeystore(psbt_interface.NewKeystoreArgs{
		Packet:      packet,
		AccountPath: accountPath,
		AccountKeys: keys,
		OwnKey:      ownKey,
		Threshold:   threshold,
	})
	if err != nil {
		printErr(err)
		return nil
	}
	tx, err := psbt_interface.ToTransaction(packet)
	if err != nil {
		printErr(err)
		return nil
	}

	if err := svc.SignTransaction(
		context.Background(), keystore, tx,
	); err != nil {
		printErr(err)
		return nil
	}
	if err := psbt_interface.ApplySignatures(packet, tx, keystore); err != nil {
		printErr(err)
		return nil
	}

	signedPsbt, err := psbt_interface.Encode(packet)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(signedPsbt)
	return nil
}

func signMessage(cmd *cobra.Command, args []string) error {
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

	signature, err := svc.SignMessage(
		context.Background(), keystore, chain, index, []byte(message),
	)
	if err != nil {
		printErr(err)
		return nil
	}

	fmt.Println(base64.StdEncoding.EncodeToString(signature))
	return nil
}

func psbtFromArgs(args []string) (string, error) {
	if psbtFile != "" {
		buf, err := os.ReadFile(psbtFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(buf)), nil
	}
	if len(args) < 1 {
		return "", fmt.Errorf("missing base64 PSBT")
	}
	return args[0], nil
}
