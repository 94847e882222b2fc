package multisig_test

import (
	"testing"

	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/altamira-labs/hwsigner/pkg/signer/multisig"
	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip32"
)

func newTestAccountKey(t *testing.T, seedByte byte) *multisig.AccountKey {
	t.Helper()

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	masterKey, err := bip32.NewMasterKey(seed)
	require.NoError(t, err)

	accountKey, err := multisig.NewAccountKey(
		masterKey.PublicKey().B58Serialize(),
	)
	require.NoError(t, err)
	return accountKey
}

func TestNewAccountKey(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		key := newTestAccountKey(t, 0x01)
		require.NotEmpty(t, key.String())
		require.Len(t, key.PublicKey(), 33)
		require.Len(t, key.ChainCode(), 32)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := multisig.NewAccountKey("not an xpub")
		require.EqualError(t, multisig.ErrInvalidXpub, err.Error())

		seed := make([]byte, 32)
		masterKey, err := bip32.NewMasterKey(seed)
		require.NoError(t, err)
		_, err = multisig.NewAccountKey(masterKey.B58Serialize())
		require.EqualError(t, multisig.ErrUnexpectedXprv, err.Error())
	})
}

func TestDerivePublicKey(t *testing.T) {
	t.Parallel()

	key := newTestAccountKey(t, 0x02)
	pubkey, err := key.DerivePublicKey(path.DerivationPath{0, 5})
	require.NoError(t, err)
	require.Len(t, pubkey, 33)

	other, err := key.DerivePublicKey(path.DerivationPath{1, 5})
	require.NoError(t, err)
	require.NotEqual(t, pubkey, other)
}

func TestNewDescriptor(t *testing.T) {
	t.Parallel()

	suffix := path.DerivationPath{0, 3}
	cosigners := []multisig.Cosigner{
		{Key: newTestAccountKey(t, 0x11), Suffix: suffix},
		{Key: newTestAccountKey(t, 0x22), Suffix: suffix},
		{Key: newTestAccountKey(t, 0x33), Suffix: suffix},
	}

	t.Run("ordering is deterministic over input permutations", func(t *testing.T) {
		reference, err := multisig.NewDescriptor(2, cosigners)
		require.NoError(t, err)
		require.NotNil(t, reference)

		permutations := [][]multisig.Cosigner{
			{cosigners[1], cosigners[0], cosigners[2]},
			{cosigners[2], cosigners[1], cosigners[0]},
			{cosigners[2], cosigners[0], cosigners[1]},
		}
		for _, permutation := range permutations {
			descriptor, err := multisig.NewDescriptor(2, permutation)
			require.NoError(t, err)
			require.Equal(t, reference.Cosigners, descriptor.Cosigners)
		}
	})

	t.Run("signature slots start empty", func(t *testing.T) {
		descriptor, err := multisig.NewDescriptor(2, cosigners)
		require.NoError(t, err)
		require.Len(t, descriptor.Signatures, len(cosigners))
		for _, sig := range descriptor.Signatures {
			require.Empty(t, sig)
		}
	})

	t.Run("single cosigner yields no descriptor", func(t *testing.T) {
		descriptor, err := multisig.NewDescriptor(1, cosigners[:1])
		require.NoError(t, err)
		require.Nil(t, descriptor)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := multisig.NewDescriptor(1, nil)
		require.EqualError(t, multisig.ErrMissingCosigners, err.Error())

		_, err = multisig.NewDescriptor(0, cosigners)
		require.EqualError(t, multisig.ErrInvalidThreshold, err.Error())

		_, err = multisig.NewDescriptor(4, cosigners)
		require.EqualError(t, multisig.ErrInvalidThreshold, err.Error())

		// hardened suffixes cannot be derived from an xpub
		_, err = multisig.NewDescriptor(2, []multisig.Cosigner{
			{Key: cosigners[0].Key, Suffix: path.DerivationPath{0x80000000}},
			{Key: cosigners[1].Key, Suffix: suffix},
		})
		require.Error(t, err)
	})
}
