package service

import (
	"context"
	"testing"
	"time"

	"companion-llm/internal/domain"
	"companion-llm/internal/repository"
)

func TestStaminaStatus_FirstAccessStartsFull(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)

	st, err := svc.Status(context.Background(), "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Current != 50 || st.Max != 50 {
		t.Fatalf("stamina %+v, se esperaba 50/50", st)
	}
}

func TestStaminaConsume(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)
	ctx := context.Background()

	err := repository.RunInTx(ctx, store, func(tx repository.Tx) error {
		st, err := svc.Consume(ctx, tx, "u1", 1)
		if err != nil {
			return err
		}
		if st.Current != 49 {
			t.Fatalf("stamina %d tras consumir, se esperaba 49", st.Current)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("consumir: %v", err)
	}
}

func TestStaminaConsume_EmptyTank(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)
	ctx := context.Background()

	seed := domain.Stamina{UserID: "u1", Current: 0, Max: 50, LastResetAt: time.Now().UTC()}
	if err := store.Stamina().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar stamina: %v", err)
	}

	err := repository.RunInTx(ctx, store, func(tx repository.Tx) error {
		_, err := svc.Consume(ctx, tx, "u1", 1)
		return err
	})
	coded := wantCode(t, err, domain.CodeInsufficientStamina)
	if coded.Detail["current"] != 0 {
		t.Fatalf("current %v, se esperaba 0", coded.Detail["current"])
	}
}

func TestStaminaStatus_DailyRollover(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)
	ctx := context.Background()

	seed := domain.Stamina{
		UserID:      "u1",
		Current:     3,
		Max:         50,
		LastResetAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	if err := store.Stamina().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar stamina: %v", err)
	}

	st, err := svc.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Current != 50 {
		t.Fatalf("stamina %d tras el cambio de dia, se esperaba 50", st.Current)
	}
}

func TestStaminaPurchasePacks(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)
	ctx := context.Background()

	w := domain.Wallet{UserID: "u1", PurchasedCredits: 100, DailyRefreshedAt: time.Now().UTC()}
	w.Recompute()
	if err := store.Wallets().Create(ctx, w); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}
	seed := domain.Stamina{UserID: "u1", Current: 50, Max: 50, LastResetAt: time.Now().UTC()}
	if err := store.Stamina().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar stamina: %v", err)
	}

	st, wallet, err := svc.PurchasePacks(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("comprar packs: %v", err)
	}
	if st.Current != 70 {
		t.Fatalf("stamina %d, se esperaban 70", st.Current)
	}
	if wallet.TotalCredits != 80 {
		t.Fatalf("saldo %d, se esperaban 80", wallet.TotalCredits)
	}

	entries, _ := store.Ledger().ListByUser(ctx, "u1", 10, 0)
	if len(entries) != 1 || entries[0].Type != domain.LedgerStaminaPurchase {
		t.Fatalf("ledger %+v, se esperaba un stamina_purchase", entries)
	}
	if entries[0].Amount != -20 || entries[0].BalanceAfter != 80 {
		t.Fatalf("asiento %+v, se esperaba amount=-20 balance_after=80", entries[0])
	}
}

func TestStaminaPurchasePacks_Validation(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)

	_, _, err := svc.PurchasePacks(context.Background(), "u1", 0)
	wantCode(t, err, domain.CodeValidation)
}

func TestStaminaPurchasePacks_NoWallet(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewStaminaService(store, nil)

	_, _, err := svc.PurchasePacks(context.Background(), "u1", 1)
	wantCode(t, err, domain.CodeInsufficientCredits)
}
