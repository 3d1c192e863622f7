package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"companion-llm/internal/domain"
	"companion-llm/internal/repository"
)

// wantCode falla si err no es un CodedError con el código esperado.
func wantCode(t *testing.T, err error, code string) *domain.CodedError {
	t.Helper()
	var coded *domain.CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("se esperaba CodedError %s, fue %v", code, err)
	}
	if coded.Code != code {
		t.Fatalf("codigo %s, se esperaba %s", coded.Code, code)
	}
	return coded
}

func countLedgerEntries(t *testing.T, store *repository.MemStore, userID, entryType string) int {
	t.Helper()
	entries, err := store.Ledger().ListByUser(context.Background(), userID, 100, 0)
	if err != nil {
		t.Fatalf("listar ledger: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Type == entryType {
			n++
		}
	}
	return n
}

func TestWalletBalance_FirstAccessSeedsAllowance(t *testing.T) {
	tests := []struct {
		tier string
		want int
	}{
		{domain.TierFree, 50},
		{domain.TierPremium, 100},
		{domain.TierVIP, 500},
	}

	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			store := repository.NewMemStore()
			svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)

			w, err := svc.Balance(context.Background(), "u1", tt.tier)
			if err != nil {
				t.Fatalf("balance: %v", err)
			}
			if w.DailyFreeCredits != tt.want || w.TotalCredits != tt.want {
				t.Fatalf("billetera %+v, se esperaban %d creditos diarios", w, tt.want)
			}
			if got := countLedgerEntries(t, store, "u1", domain.LedgerDailyRefresh); got != 1 {
				t.Fatalf("asientos daily_refresh %d, se esperaba 1", got)
			}
		})
	}
}

func TestWalletBalance_LazyDailyRefresh(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	ctx := context.Background()

	seed := domain.Wallet{
		UserID:           "u1",
		PurchasedCredits: 7,
		DailyRefreshedAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	seed.Recompute()
	if err := store.Wallets().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}

	w, err := svc.Balance(ctx, "u1", domain.TierFree)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if w.DailyFreeCredits != 50 || w.TotalCredits != 57 {
		t.Fatalf("billetera %+v, se esperaban 50 diarios y 57 totales", w)
	}
	if got := countLedgerEntries(t, store, "u1", domain.LedgerDailyRefresh); got != 1 {
		t.Fatalf("asientos daily_refresh %d, se esperaba 1", got)
	}

	// Segunda lectura el mismo día: sin refresh ni asiento nuevo.
	if _, err := svc.Balance(ctx, "u1", domain.TierFree); err != nil {
		t.Fatalf("segunda lectura: %v", err)
	}
	if got := countLedgerEntries(t, store, "u1", domain.LedgerDailyRefresh); got != 1 {
		t.Fatalf("el refresh debe asentarse una sola vez, hay %d", got)
	}
}

func TestWalletBalance_RefreshResetsInsteadOfAccumulating(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	ctx := context.Background()

	seed := domain.Wallet{
		UserID:           "u1",
		DailyFreeCredits: 30,
		DailyRefreshedAt: time.Now().UTC().Add(-24 * time.Hour),
	}
	seed.Recompute()
	if err := store.Wallets().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}

	w, err := svc.Balance(ctx, "u1", domain.TierFree)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if w.DailyFreeCredits != 50 {
		t.Fatalf("diarios %d, se esperaba reset a 50, no acumulacion", w.DailyFreeCredits)
	}
}

func TestPrecheckChat_Insufficient(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	ctx := context.Background()

	seed := domain.Wallet{UserID: "u1", DailyRefreshedAt: time.Now().UTC()}
	seed.Recompute()
	if err := store.Wallets().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}

	_, err := svc.PrecheckChat(ctx, "u1", domain.TierFree)
	coded := wantCode(t, err, domain.CodeInsufficientCredits)
	if coded.Detail["required"] != 1 {
		t.Fatalf("required %v, se esperaba 1", coded.Detail["required"])
	}
}

func TestDeductChat_PocketPriority(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	ctx := context.Background()

	seed := domain.Wallet{
		UserID:           "u1",
		DailyFreeCredits: 2,
		PurchasedCredits: 3,
		BonusCredits:     4,
		DailyRefreshedAt: time.Now().UTC(),
	}
	seed.Recompute()
	if err := store.Wallets().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}

	// 2500 tokens cuestan 3 créditos: agotan el bolsillo diario y muerden el
	// comprado, sin tocar el bono.
	err := repository.RunInTx(ctx, store, func(tx repository.Tx) error {
		w, cost, err := svc.DeductChat(ctx, tx, "u1", 2500, nil)
		if err != nil {
			return err
		}
		if cost != 3 {
			t.Fatalf("costo %d, se esperaban 3", cost)
		}
		if w.DailyFreeCredits != 0 || w.PurchasedCredits != 2 || w.BonusCredits != 4 {
			t.Fatalf("bolsillos %+v, se esperaba 0/2/4", w)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("deduccion: %v", err)
	}

	entries, _ := store.Ledger().ListByUser(ctx, "u1", 10, 0)
	if len(entries) != 1 || entries[0].Type != domain.LedgerChatDeduction {
		t.Fatalf("ledger %+v, se esperaba un chat_deduction", entries)
	}
	if entries[0].Amount != -3 || entries[0].BalanceAfter != 6 {
		t.Fatalf("asiento %+v, se esperaba amount=-3 balance_after=6", entries[0])
	}
}

func TestDeductChat_InsufficientRollsBack(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
	ctx := context.Background()

	seed := domain.Wallet{UserID: "u1", DailyFreeCredits: 1, DailyRefreshedAt: time.Now().UTC()}
	seed.Recompute()
	if err := store.Wallets().Create(ctx, seed); err != nil {
		t.Fatalf("sembrar billetera: %v", err)
	}

	err := repository.RunInTx(ctx, store, func(tx repository.Tx) error {
		_, _, err := svc.DeductChat(ctx, tx, "u1", 5000, nil) // 5 créditos
		return err
	})
	wantCode(t, err, domain.CodeInsufficientCredits)

	w, _ := store.Wallets().Get(ctx, "u1")
	if w.TotalCredits != 1 {
		t.Fatalf("saldo %d tras rollback, se esperaba 1", w.TotalCredits)
	}
	if got := countLedgerEntries(t, store, "u1", domain.LedgerChatDeduction); got != 0 {
		t.Fatalf("no debia quedar asiento de deduccion, hay %d", got)
	}
}

func TestChatCostFromTokens(t *testing.T) {
	tests := []struct {
		tokens int
		want   int
	}{
		{0, 1},
		{1, 1},
		{1000, 1},
		{1001, 2},
		{2500, 3},
		{3000, 3},
		{3001, 4},
	}
	for _, tt := range tests {
		if got := chatCostFromTokens(tt.tokens); got != tt.want {
			t.Errorf("chatCostFromTokens(%d) = %d, se esperaba %d", tt.tokens, got, tt.want)
		}
	}
}

func TestWalletPurchase(t *testing.T) {
	t.Run("acredita paquete con pago simulado", func(t *testing.T) {
		store := repository.NewMemStore()
		svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)

		w, err := svc.Purchase(context.Background(), "u1", domain.TierFree, "whale")
		if err != nil {
			t.Fatalf("compra: %v", err)
		}
		if w.PurchasedCredits != 1000 || w.BonusCredits != 200 {
			t.Fatalf("billetera %+v, se esperaban 1000 comprados y 200 bono", w)
		}
		// 50 de la creación + 1200 del paquete.
		if w.TotalCredits != 1250 {
			t.Fatalf("total %d, se esperaban 1250", w.TotalCredits)
		}
		if got := countLedgerEntries(t, store, "u1", domain.LedgerPurchase); got != 1 {
			t.Fatalf("asientos purchase %d, se esperaba 1", got)
		}
	})

	t.Run("sin pasarela devuelve unimplemented", func(t *testing.T) {
		store := repository.NewMemStore()
		svc := NewWalletService(store, store.Wallets(), store.Ledger(), false, nil)
		_, err := svc.Purchase(context.Background(), "u1", domain.TierFree, "starter")
		wantCode(t, err, domain.CodeUnimplemented)
	})

	t.Run("paquete desconocido es validacion", func(t *testing.T) {
		store := repository.NewMemStore()
		svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)
		_, err := svc.Purchase(context.Background(), "u1", domain.TierFree, "mega")
		wantCode(t, err, domain.CodeValidation)
	})
}

func TestWalletPackages_StableOrder(t *testing.T) {
	store := repository.NewMemStore()
	svc := NewWalletService(store, store.Wallets(), store.Ledger(), true, nil)

	pkgs := svc.Packages()
	if len(pkgs) != 3 {
		t.Fatalf("paquetes %d, se esperaban 3", len(pkgs))
	}
	wantIDs := []string{"starter", "plus", "whale"}
	for i, want := range wantIDs {
		if pkgs[i].ID != want {
			t.Fatalf("paquete %d = %s, se esperaba %s", i, pkgs[i].ID, want)
		}
	}
}

func TestDeductPockets_NeverGoesNegative(t *testing.T) {
	w := domain.Wallet{DailyFreeCredits: 2, PurchasedCredits: 1}
	w.Recompute()

	if err := deductPockets(&w, 5); err == nil {
		t.Fatal("descontar mas del total debia fallar")
	}
	if err := deductPockets(&w, -1); err == nil {
		t.Fatal("descontar negativo debia fallar")
	}
	if err := deductPockets(&w, 3); err != nil {
		t.Fatalf("descuento valido fallo: %v", err)
	}
	if w.TotalCredits != 0 {
		t.Fatalf("total %d, se esperaba 0", w.TotalCredits)
	}
}
