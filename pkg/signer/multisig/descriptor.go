package multisig

import (
	"bytes"
	"sort"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
)

// Cosigner pairs the account-level extended public key of a multisig
// participant with the unhardened path suffix of the address being spent.
type Cosigner struct {
	Key    *AccountKey
	Suffix path.DerivationPath
}

// Descriptor is the ordered list of cosigners of a multisig script, plus the
// signature threshold and one signature slot per cosigner. The slots start
// empty and are filled by each cosigner's independent signing pass.
type Descriptor struct {
	Cosigners  []Cosigner
	Threshold  int
	Signatures [][]byte
}

// NewDescriptor builds a Descriptor from an unordered set of cosigners.
// Cosigners are sorted by the public key derived at their path suffix, so
// that every participating device, given the same unordered set, rebuilds an
// identical descriptor. The device re-derives and checks this ordering on its
// side, mismatching orderings across cosigners make the multisig scheme fail.
// Returns nil without error if there's a single cosigner, since multisig does
// not apply to single-signer scripts.
func NewDescriptor(threshold int, cosigners []Cosigner) (*Descriptor, error) {
	if len(cosigners) <= 0 {
		return nil, ErrMissingCosigners
	}
	if len(cosigners) == 1 {
		return nil, nil
	}
	if threshold < 1 || threshold > len(cosigners) {
		return nil, ErrInvalidThreshold
	}

	sorted := make([]Cosigner, len(cosigners))
	copy(sorted, cosigners)

	pubkeys := make(map[*AccountKey][]byte)
	for _, cosigner := range sorted {
		pubkey, err := cosigner.Key.DerivePublicKey(cosigner.Suffix)
		if err != nil {
			return nil, err
		}
		pubkeys[cosigner.Key] = pubkey
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(
			pubkeys[sorted[i].Key], pubkeys[sorted[j].Key],
		) < 0
	})

	signatures := make([][]byte, len(sorted))
	for i := range signatures {
		signatures[i] = []byte{}
	}

	return &Descriptor{
		Cosigners:  sorted,
		Threshold:  threshold,
		Signatures: signatures,
	}, nil
}
