package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
)

var (
	colorRed = string("\033[31m")

	// Keystore flags shared by the commands that act on behalf of an account.
	flagXpub      string
	flagCosigners []string
	flagThreshold int
)

// accountKeys parses the own account xpub and the cosigner ones from the
// shared flags. With no cosigners the account is a plain single-sig one.
func accountKeys() (*multisig.AccountKey, []*multisig.AccountKey, int, error) {
	ownKey, err := multisig.NewAccountKey(flagXpub)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("invalid xpub: %s", err)
	}

	keys := []*multisig.AccountKey{ownKey}
	for _, xpub := range flagCosigners {
		key, err := multisig.NewAccountKey(xpub)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("invalid cosigner xpub: %s", err)
		}
		keys = append(keys, key)
	}

	threshold := flagThreshold
	if threshold == 0 {
		threshold = len(keys)
	}
	return ownKey, keys, threshold, nil
}

func jsonResponse(v interface{}) (string, error) {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal response: %s", err)
	}
	return string(buf), nil
}

func printErr(err error) {
	msg := fmt.Sprintf("%s%s", colorRed, capitalize(err.Error()))
	fmt.Fprintln(os.Stderr, msg)
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	ss := strings.ToUpper(s[0:1])
	ss += s[1:]
	return ss
}
