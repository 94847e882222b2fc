package application

import (
	"context"
	"fmt"
	"time"

	"github.com/altamira-labs/hwsigner/internal/core/domain"
	"github.com/altamira-labs/hwsigner/internal/core/ports"
	path "github.com/altamira-labs/hwsigner/pkg/signer/derivation-path"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
)

const maxLabelLen = 32

var (
	ErrMissingPrevTxForInput = fmt.Errorf("missing previous tx for legacy input")
	ErrInvalidStrength       = fmt.Errorf("entropy strength must be one of 128, 192, 256")
	ErrInvalidWordCount      = fmt.Errorf("seed word count must be one of 12, 18, 24")
	ErrInvalidMnemonic       = fmt.Errorf("invalid BIP39 mnemonic")
	ErrMissingXprv           = fmt.Errorf("missing master private key")
	ErrLabelTooLong          = fmt.Errorf("device label must not exceed %d characters", maxLabelLen)

	supportedScriptTypes = map[string]struct{}{
		"standard": {},
		"p2sh":     {},
	}
)

// SignerService delegates the private-key operations of a wallet to an
// external signing device:
//   - Sign a wallet transaction, answering the device requests for the
//     previously broadcast transactions referenced by its inputs.
//   - Sign an arbitrary message with a derived key.
//   - Retrieve extended public keys and derived addresses, optionally
//     displayed and verified on the device screen.
//   - Initialize a brand new device with one of the supported methods.
//
// The service caches one live device handle per keystore identity and
// serializes the operations against each device, since the underlying
// transport is exclusive and stateful.
type SignerService struct {
	coinName   string
	net        *chaincfg.Params
	translator *translator
	devices    *deviceManager

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

type SignerServiceArgs struct {
	CoinName       string
	Net            *chaincfg.Params
	Connector      ports.DeviceConnector
	MinFirmware    ports.FirmwareVersion
	FirmwareURL    string
	SessionTimeout time.Duration
}

func (a SignerServiceArgs) validate() error {
	if a.CoinName == "" {
		return fmt.Errorf("missing coin name")
	}
	if a.Net == nil {
		return fmt.Errorf("missing network params")
	}
	if a.Connector == nil {
		return fmt.Errorf("missing device connector")
	}
	return nil
}

func NewSignerService(args SignerServiceArgs) (*SignerService, error) {
	if err := args.validate(); err != nil {
		return nil, err
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("signer service: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("signer service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	devices := newDeviceManager(
		args.Connector, args.MinFirmware, args.FirmwareURL, args.SessionTimeout,
	)
	return &SignerService{
		coinName:   args.CoinName,
		net:        args.Net,
		translator: newTranslator(args.Net),
		devices:    devices,
		log:        logFn,
		warn:       warnFn,
	}, nil
}

// SignTransaction signs the given transaction with the device paired to the
// keystore and applies the resulting signatures to it in input order, each
// with the sighash-type suffix appended. The call blocks on physical user
// confirmation.
func (s *SignerService) SignTransaction(
	ctx context.Context, keystore ports.Keystore, tx *domain.Transaction,
) error {
	if tx.IsComplete() {
		return nil
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	// previous transactions used as inputs, requested back by the device
	prevTxs := make(map[chainhash.Hash]*domain.Transaction)
	for _, in := range tx.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if in.PrevTx == nil {
			return ErrMissingPrevTxForInput
		}
		prevTxs[in.PrevHash] = in.PrevTx
	}

	handle, err := s.devices.getClient(ctx, keystore.Identity())
	if err != nil {
		return err
	}

	inputs, err := s.translator.txInputs(tx, true, keystore)
	if err != nil {
		return err
	}
	outputs, err := s.translator.txOutputs(tx, keystore)
	if err != nil {
		return err
	}

	session := newSigningSession(s.coinName, s.translator, prevTxs)
	var signatures [][]byte
	if err := s.devices.withDevice(
		keystore.Identity(), handle, func(device ports.Device) error {
			var err error
			signatures, err = session.sign(
				ctx, device, inputs, outputs, tx.Version, tx.LockTime,
			)
			return err
		},
	); err != nil {
		return err
	}

	for i, sig := range signatures {
		if len(sig) <= 0 {
			continue
		}
		signatures[i] = append(sig, byte(txscript.SigHashAll))
	}
	if err := tx.ApplySignatures(signatures); err != nil {
		return err
	}

	s.log("signed tx %s with %d signature(s)", tx.TxHash(), len(signatures))
	return nil
}

// SignMessage signs the given message with the key of the keystore account at
// the (chain, index) suffix, using the coin-specific message magic.
func (s *SignerService) SignMessage(
	ctx context.Context, keystore ports.Keystore, chain, index uint32,
	message []byte,
) ([]byte, error) {
	prefix, err := path.ParseAccountDerivationPath(keystore.AccountPath())
	if err != nil {
		return nil, err
	}
	fullPath := prefix.Extend(chain, index)

	handle, err := s.devices.getClient(ctx, keystore.Identity())
	if err != nil {
		return nil, err
	}

	var signature []byte
	if err := s.devices.withDevice(
		keystore.Identity(), handle, func(device ports.Device) error {
			var err error
			signature, err = device.SignMessage(ctx, s.coinName, fullPath, message)
			return err
		},
	); err != nil {
		return nil, err
	}
	return signature, nil
}

// DeriveExtendedKey retrieves from the device the extended public key at the
// given derivation path, gated on the script types the device supports.
func (s *SignerService) DeriveExtendedKey(
	ctx context.Context, deviceID, derivationPath, scriptType string,
) (string, error) {
	if _, ok := supportedScriptTypes[scriptType]; !ok {
		return "", ErrScriptTypeUnsupported
	}
	parsedPath, err := path.ParseDerivationPath(derivationPath)
	if err != nil {
		return "", err
	}

	handle, err := s.devices.getClient(ctx, deviceID)
	if err != nil {
		return "", err
	}

	var xpub string
	if err := s.devices.withDevice(
		deviceID, handle, func(device ports.Device) error {
			var err error
			xpub, err = device.GetExtendedKey(ctx, parsedPath)
			return err
		},
	); err != nil {
		return "", err
	}
	return xpub, nil
}

// ShowAddress derives the address of the keystore account at the given
// (chain, index) suffix and makes the device display it for out-of-band
// verification, attaching the multisig descriptor when the keystore has many
// cosigners.
func (s *SignerService) ShowAddress(
	ctx context.Context, keystore ports.Keystore, chain, index uint32,
) (string, error) {
	prefix, err := path.ParseAccountDerivationPath(keystore.AccountPath())
	if err != nil {
		return "", err
	}
	fullPath := prefix.Extend(chain, index)

	ms, err := s.translator.makeMultisig(
		keystore, path.DerivationPath{chain, index},
	)
	if err != nil {
		return "", err
	}
	scriptType := ports.SpendAddress
	if ms != nil {
		scriptType = ports.SpendMultisig
	}

	handle, err := s.devices.getClient(ctx, keystore.Identity())
	if err != nil {
		return "", err
	}

	var address string
	if err := s.devices.withDevice(
		keystore.Identity(), handle, func(device ports.Device) error {
			var err error
			address, err = device.GetAddress(
				ctx, s.coinName, fullPath, true, scriptType, ms,
			)
			return err
		},
	); err != nil {
		return "", err
	}
	return address, nil
}

// GetDeviceInfo returns the features advertised by the device.
func (s *SignerService) GetDeviceInfo(
	ctx context.Context, deviceID string,
) (*DeviceInfo, error) {
	handle, err := s.devices.getClient(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return deviceInfo(handle.info), nil
}

// InitializeDevice initializes the device with one of the supported methods:
// generating a new random seed on-device, recovering a seed entered on the
// device, or uploading a mnemonic or a master private key from the host.
func (s *SignerService) InitializeDevice(
	ctx context.Context, deviceID string, args InitDeviceArgs,
) error {
	if len(args.Label) > maxLabelLen {
		return ErrLabelTooLong
	}

	handle, err := s.devices.getClient(ctx, deviceID)
	if err != nil {
		return err
	}

	return s.devices.withDevice(
		deviceID, handle, func(device ports.Device) error {
			switch args.Method {
			case InitMethodNew:
				if args.Strength != 128 && args.Strength != 192 && args.Strength != 256 {
					return ErrInvalidStrength
				}
				return device.ResetDevice(ctx, ports.ResetDeviceArgs{
					Strength:             args.Strength,
					Label:                args.Label,
					PIN:                  args.PIN,
					PassphraseProtection: args.PassphraseProtection,
				})
			case InitMethodRecover:
				if args.WordCount != 12 && args.WordCount != 18 && args.WordCount != 24 {
					return ErrInvalidWordCount
				}
				return device.RecoverDevice(ctx, ports.RecoverDeviceArgs{
					WordCount:            args.WordCount,
					Label:                args.Label,
					PIN:                  args.PIN,
					PassphraseProtection: args.PassphraseProtection,
				})
			case InitMethodMnemonic:
				if !bip39.IsMnemonicValid(args.Mnemonic) {
					return ErrInvalidMnemonic
				}
				return device.LoadDevice(ctx, ports.LoadDeviceArgs{
					Mnemonic:             args.Mnemonic,
					Label:                args.Label,
					PIN:                  args.PIN,
					PassphraseProtection: args.PassphraseProtection,
				})
			case InitMethodPrivateKey:
				if args.Xprv == "" {
					return ErrMissingXprv
				}
				return device.LoadDevice(ctx, ports.LoadDeviceArgs{
					Xprv:                 args.Xprv,
					Label:                args.Label,
					PIN:                  args.PIN,
					PassphraseProtection: args.PassphraseProtection,
				})
			default:
				return fmt.Errorf("unknown initialization method")
			}
		},
	)
}

// WipeDevice factory-resets the device.
func (s *SignerService) WipeDevice(ctx context.Context, deviceID string) error {
	handle, err := s.devices.getClient(ctx, deviceID)
	if err != nil {
		return err
	}
	err = s.devices.withDevice(
		deviceID, handle, func(device ports.Device) error {
			return device.WipeDevice(ctx)
		},
	)
	if err != nil {
		return err
	}
	// the cached handle refers to a wiped seed, drop it
	s.devices.evict(deviceID)
	return nil
}
