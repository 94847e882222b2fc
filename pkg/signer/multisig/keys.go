package multisig

import (
	"encoding/binary"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/tyler-smith/go-bip32"
)

// AccountKey is the extended public key of a cosigner at the account depth,
// along with the BIP32 metadata (depth, parent fingerprint, child number,
// chain code) a signing device needs to rebuild the node on its side.
// It is immutable once parsed from its base58 representation.
type AccountKey struct {
	xpub string
	key  *bip32.Key
}

// NewAccountKey parses the given base58 extended public key.
func NewAccountKey(xpub string) (*AccountKey, error) {
	key, err := bip32.B58Deserialize(xpub)
	if err != nil {
		return nil, ErrInvalidXpub
	}
	if key.IsPrivate {
		return nil, ErrUnexpectedXprv
	}
	return &AccountKey{xpub, key}, nil
}

func (a *AccountKey) String() string {
	return a.xpub
}

func (a *AccountKey) Depth() uint8 {
	return a.key.Depth
}

func (a *AccountKey) Fingerprint() uint32 {
	return binary.BigEndian.Uint32(a.key.FingerPrint)
}

func (a *AccountKey) ChildNumber() uint32 {
	return binary.BigEndian.Uint32(a.key.ChildNumber)
}

func (a *AccountKey) ChainCode() []byte {
	chainCode := make([]byte, len(a.key.ChainCode))
	copy(chainCode, a.key.ChainCode)
	return chainCode
}

// PublicKey returns the compressed serialization of the account-level public
// key.
func (a *AccountKey) PublicKey() []byte {
	pubkey := make([]byte, len(a.key.Key))
	copy(pubkey, a.key.Key)
	return pubkey
}

// DerivePublicKey returns the compressed public key obtained by deriving the
// account key along the given unhardened path suffix.
func (a *AccountKey) DerivePublicKey(suffix path.DerivationPath) ([]byte, error) {
	childKey := a.key
	for _, step := range suffix {
		var err error
		childKey, err = childKey.NewChildKey(step)
		if err != nil {
			return nil, err
		}
	}
	return childKey.Key, nil
}
