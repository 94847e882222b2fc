package multisig

import (
	"fmt"
)

var (
	ErrInvalidXpub      = fmt.Errorf("invalid extended public key")
	ErrUnexpectedXprv   = fmt.Errorf("cosigner key must be an extended public key, not a private one")
	ErrMissingCosigners = fmt.Errorf("missing cosigner keys")
	ErrInvalidThreshold = fmt.Errorf("threshold must be in range [1, number of cosigners]")
)
