package path

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// DerivationPath is the data structure representing an HD path.
type DerivationPath []uint32

// ParseDerivationPath converts a derivation path in string format to a
// DerivationPath type.
func ParseDerivationPath(strPath string) (DerivationPath, error) {
	return parseDerivationPath(strPath, false)
}

// ParseAccountDerivationPath parses the derivation prefix identifying a
// keystore account, like m/44'/5'/0'. The path must be absolute and composed
// only by hardened elements.
func ParseAccountDerivationPath(strPath string) (DerivationPath, error) {
	path, err := parseDerivationPath(strPath, true)
	if err != nil {
		return nil, err
	}
	if len(path) < 2 {
		return nil, ErrInvalidAccountPathLen
	}
	for _, step := range path {
		if step < hdkeychain.HardenedKeyStart {
			return nil, ErrInvalidAccountPath
		}
	}
	return path, nil
}

// Extend returns a new path with the given unhardened steps appended, leaving
// the receiver untouched. It's used to turn an account prefix into the full
// path of an address given its (chain, index) pair.
func (path DerivationPath) Extend(steps ...uint32) DerivationPath {
	extended := make(DerivationPath, 0, len(path)+len(steps))
	extended = append(extended, path...)
	extended = append(extended, steps...)
	return extended
}

func (path DerivationPath) String() string {
	if len(path) <= 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("m")
	for _, step := range path {
		sb.WriteString("/")
		if step >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(
				uint64(step-hdkeychain.HardenedKeyStart), 10,
			))
			sb.WriteString("'")
		} else {
			sb.WriteString(strconv.FormatUint(uint64(step), 10))
		}
	}
	return sb.String()
}

func parseDerivationPath(
	strPath string, checkAbsolutePath bool,
) (DerivationPath, error) {
	if strPath == "" {
		return nil, ErrMissingDerivationPath
	}

	elems := strings.Split(strPath, "/")
	for _, elem := range elems {
		if elem == "" {
			return nil, ErrMalformedDerivationPath
		}
	}
	if checkAbsolutePath && elems[0] != "m" {
		return nil, ErrRequiredAbsoluteDerivationPath
	}
	if len(elems) < 2 {
		return nil, ErrMalformedDerivationPath
	}
	if strings.TrimSpace(elems[0]) == "m" {
		elems = elems[1:]
	}

	path := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		step, err := parseStep(strings.TrimSpace(elem))
		if err != nil {
			return nil, err
		}
		path = append(path, step)
	}
	return path, nil
}

func parseStep(elem string) (uint32, error) {
	var offset uint32
	if strings.HasSuffix(elem, "'") {
		offset = hdkeychain.HardenedKeyStart
		elem = strings.TrimSpace(strings.TrimSuffix(elem, "'"))
	}

	// base 0, so hex steps like 0x2c are accepted too
	value, ok := new(big.Int).SetString(elem, 0)
	if !ok {
		return 0, fmt.Errorf("invalid elem '%s' in path", elem)
	}

	max := uint64(math.MaxUint32 - offset)
	if value.Sign() < 0 || value.Cmp(new(big.Int).SetUint64(max)) > 0 {
		if offset == 0 {
			return 0, fmt.Errorf("elem %v must be in range [0, %d]", value, max)
		}
		return 0, fmt.Errorf("elem %v must be in hardened range [0, %d]", value, max)
	}
	return offset + uint32(value.Uint64()), nil
}
