package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Murzuq/Cash-Padi/shared/utils"
	"github.com/Murzuq/Cash-Padi/wallet-service/internal/repository"
	"go.uber.org/zap"
)

var ErrInvalidPin = errors.New("pin must be 4 to 6 digits")

// PinGate checks transaction PINs against stored bcrypt hashes and locks a
// user out after too many failures.
type PinGate struct {
	pins    repository.PinStore
	limiter AttemptLimiter
	logger  *zap.Logger
}

func NewPinGate(pins repository.PinStore, limiter AttemptLimiter, logger *zap.Logger) *PinGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PinGate{pins: pins, limiter: limiter, logger: logger}
}

// VerifyPin returns false for a wrong PIN and for a locked-out user. A user
// who never set a PIN gets repository.ErrPinNotSet.
func (g *PinGate) VerifyPin(ctx context.Context, userID, pin string) (bool, error) {
	locked, err := g.limiter.Locked(ctx, userID)
	if err != nil {
		return false, err
	}
	if locked {
		g.logger.Warn("pin verification refused, user locked out", zap.String("user_id", userID))
		return false, nil
	}

	hash, err := g.pins.GetPinHash(ctx, userID)
	if err != nil {
		return false, err
	}

	if !utils.CheckPin(pin, hash) {
		n, err := g.limiter.Fail(ctx, userID)
		if err != nil {
			g.logger.Error("failed to record pin failure", zap.String("user_id", userID), zap.Error(err))
		} else if n >= g.limiter.Max() {
			g.logger.Warn("pin attempts exhausted", zap.String("user_id", userID), zap.Int64("failures", n))
		}
		return false, nil
	}

	if err := g.limiter.Reset(ctx, userID); err != nil {
		g.logger.Warn("failed to reset pin attempts", zap.String("user_id", userID), zap.Error(err))
	}
	return true, nil
}

// SetPin stores a new PIN for userID and clears any lockout.
func (g *PinGate) SetPin(ctx context.Context, userID, pin string) error {
	if len(pin) < 4 || len(pin) > 6 || !utils.IsDigits(pin) {
		return ErrInvalidPin
	}
	hash, err := utils.HashPin(pin)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	if err := g.pins.SetPinHash(ctx, userID, hash); err != nil {
		return err
	}
	if err := g.limiter.Reset(ctx, userID); err != nil {
		g.logger.Warn("failed to reset pin attempts", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}
