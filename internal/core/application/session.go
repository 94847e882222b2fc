package application

import (
	"context"
	"fmt"

	"github.com/altamira-labs/hwsigner/internal/core/domain"
	"github.com/altamira-labs/hwsigner/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionAwaitingConfirmation
	sessionCompleted
	sessionCancelled
	sessionFailed
)

func (s sessionState) String() string {
	switch s {
	case sessionIdle:
		return "idle"
	case sessionAwaitingConfirmation:
		return "awaiting_device_confirmation"
	case sessionCompleted:
		return "completed"
	case sessionCancelled:
		return "cancelled"
	case sessionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// signingSession owns the single outbound sign-transaction call to a device
// and the callback-style exchange where the device requests previously
// broadcast transactions to verify the claimed amount of legacy inputs.
// Its state is ephemeral, one session per sign call, discarded afterwards.
type signingSession struct {
	id         string
	coin       string
	translator *translator
	prevTxs    map[chainhash.Hash]*domain.Transaction
	state      sessionState

	log func(format string, a ...interface{})
}

func newSigningSession(
	coin string, translator *translator,
	prevTxs map[chainhash.Hash]*domain.Transaction,
) *signingSession {
	id := uuid.NewString()
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("signing session %s: %s", id, format)
		log.Debugf(format, a...)
	}
	return &signingSession{
		id:         id,
		coin:       coin,
		translator: translator,
		prevTxs:    prevTxs,
		state:      sessionIdle,
		log:        logFn,
	}
}

// sign performs the blocking sign call against the device. It waits on
// physical user interaction and must never run on a caller's primary thread.
// Returned signatures are raw, one per input in input order, without the
// sighash-type suffix.
func (s *signingSession) sign(
	ctx context.Context, device ports.Device,
	inputs []ports.TxInput, outputs []ports.TxOutput,
	version int32, lockTime uint32,
) ([][]byte, error) {
	s.transition(sessionAwaitingConfirmation)

	signatures, err := device.SignTx(
		ctx, s.coin, inputs, outputs, version, lockTime, s.resolvePrevTx,
	)
	if err != nil {
		if err == ports.ErrUserCancelled {
			s.transition(sessionCancelled)
		} else {
			s.transition(sessionFailed)
		}
		return nil, err
	}
	if len(signatures) != len(inputs) {
		s.transition(sessionFailed)
		return nil, domain.ErrInvalidSignatureCount
	}

	s.transition(sessionCompleted)
	return signatures, nil
}

// resolvePrevTx answers a device callback by translating the corresponding
// cached previous transaction, or fails the whole session if the requested
// hash is not in the pre-populated cache.
func (s *signingSession) resolvePrevTx(txHash chainhash.Hash) (*ports.PrevTx, error) {
	s.log("device requested referenced tx %s", txHash)
	tx, ok := s.prevTxs[txHash]
	if !ok {
		return nil, ports.ErrMissingPrevTx
	}
	prevTx, err := s.translator.prevTx(tx)
	if err != nil {
		return nil, err
	}
	s.log("supplied referenced tx %s", txHash)
	return prevTx, nil
}

func (s *signingSession) transition(next sessionState) {
	s.log("state %s -> %s", s.state, next)
	s.state = next
}
