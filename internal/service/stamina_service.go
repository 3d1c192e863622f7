package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/repository"
)

const (
	staminaDailyMax    = 50
	staminaPackSize    = 10
	staminaPackCredits = 10
	staminaPerChatTurn = 1
)

// StaminaService maneja la energía gratuita: 50 por día UTC, 1 por mensaje.
// El reset es lazy: ocurre en el primer acceso después del cambio de día.
type StaminaService struct {
	uow    repository.UnitOfWork
	logger *zap.Logger
}

func NewStaminaService(uow repository.UnitOfWork, logger *zap.Logger) *StaminaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaminaService{uow: uow, logger: logger}
}

// Status devuelve la stamina vigente, aplicando el reset diario si tocaba.
func (s *StaminaService) Status(ctx context.Context, userID string) (domain.Stamina, error) {
	var out domain.Stamina
	err := repository.RunInTx(ctx, s.uow, func(tx repository.Tx) error {
		st, err := lockOrCreateStamina(ctx, tx, userID)
		if err != nil {
			return err
		}
		if resetIfRolledOver(&st, time.Now().UTC()) {
			if err := tx.Stamina().Save(ctx, st); err != nil {
				return fmt.Errorf("save stamina: %w", err)
			}
		}
		out = st
		return nil
	})
	return out, err
}

// Consume descuenta stamina dentro de la transacción del caller.
func (s *StaminaService) Consume(ctx context.Context, tx repository.Tx, userID string, amount int) (domain.Stamina, error) {
	st, err := lockOrCreateStamina(ctx, tx, userID)
	if err != nil {
		return domain.Stamina{}, err
	}
	resetIfRolledOver(&st, time.Now().UTC())

	if st.Current < amount {
		return st, domain.NewCodedError(domain.CodeInsufficientStamina, "not enough stamina").
			With("required", amount).
			With("current", st.Current)
	}
	st.Current -= amount
	if err := tx.Stamina().Save(ctx, st); err != nil {
		return st, fmt.Errorf("save stamina: %w", err)
	}
	return st, nil
}

// PurchasePacks cambia créditos por stamina en una sola transacción: debita
// la billetera y acredita la energía atómicamente, con su asiento.
func (s *StaminaService) PurchasePacks(ctx context.Context, userID string, packs int) (domain.Stamina, domain.Wallet, error) {
	if packs <= 0 {
		return domain.Stamina{}, domain.Wallet{}, domain.NewCodedError(domain.CodeValidation, "packs must be positive").
			With("packs", packs)
	}
	cost := packs * staminaPackCredits
	grant := packs * staminaPackSize

	var outStamina domain.Stamina
	var outWallet domain.Wallet
	err := repository.RunInTx(ctx, s.uow, func(tx repository.Tx) error {
		w, err := tx.Wallets().GetForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NewCodedError(domain.CodeInsufficientCredits, "not enough credits for stamina").
					With("required", cost).
					With("current_balance", 0)
			}
			return fmt.Errorf("lock wallet: %w", err)
		}
		if w.TotalCredits < cost {
			return domain.NewCodedError(domain.CodeInsufficientCredits, "not enough credits for stamina").
				With("required", cost).
				With("current_balance", w.TotalCredits)
		}
		if err := deductPockets(&w, cost); err != nil {
			return err
		}
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return fmt.Errorf("save wallet: %w", err)
		}

		st, err := lockOrCreateStamina(ctx, tx, userID)
		if err != nil {
			return err
		}
		resetIfRolledOver(&st, time.Now().UTC())
		st.Current += grant
		if err := tx.Stamina().Save(ctx, st); err != nil {
			return fmt.Errorf("save stamina: %w", err)
		}

		entry := domain.LedgerEntry{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         domain.LedgerStaminaPurchase,
			Amount:       -cost,
			BalanceAfter: w.TotalCredits,
			Description:  fmt.Sprintf("stamina purchase x%d", packs),
			ExtraData:    map[string]any{"packs": packs, "stamina_granted": grant},
			CreatedAt:    time.Now().UTC(),
		}
		if err := tx.Ledger().Append(ctx, entry); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}

		outStamina = st
		outWallet = w
		return nil
	})
	return outStamina, outWallet, err
}

func lockOrCreateStamina(ctx context.Context, tx repository.Tx, userID string) (domain.Stamina, error) {
	st, err := tx.Stamina().GetForUpdate(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Stamina{}, fmt.Errorf("lock stamina: %w", err)
	}

	st = domain.Stamina{
		UserID:      userID,
		Current:     staminaDailyMax,
		Max:         staminaDailyMax,
		LastResetAt: time.Now().UTC(),
	}
	if err := tx.Stamina().Create(ctx, st); err != nil {
		return domain.Stamina{}, fmt.Errorf("create stamina: %w", err)
	}
	return tx.Stamina().GetForUpdate(ctx, userID)
}

// resetIfRolledOver repone al máximo en el primer acceso tras el cambio de
// día UTC. Devuelve si hubo reset (el caller decide persistir).
func resetIfRolledOver(st *domain.Stamina, now time.Time) bool {
	if sameUTCDay(st.LastResetAt, now) {
		return false
	}
	st.Current = st.Max
	st.LastResetAt = now
	return true
}
