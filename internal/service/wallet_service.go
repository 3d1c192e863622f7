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

/*
========================
 Economía por tier
========================
*/

// tierDailyAllowance son los créditos gratis que se reponen cada día UTC.
func tierDailyAllowance(tier string) int {
	switch tier {
	case domain.TierVIP:
		return 500
	case domain.TierPremium:
		return 100
	default:
		return 50
	}
}

// estimatedChatCost es la cota superior conservadora del pre-check; la
// deducción real es exacta por tokens.
func estimatedChatCost(tier string) int {
	if tier == domain.TierFree {
		return 1
	}
	return 2
}

// chatCostFromTokens cobra 1 crédito por cada 1000 tokens empezados, mínimo 1.
func chatCostFromTokens(tokensUsed int) int {
	if tokensUsed <= 1000 {
		return 1
	}
	return (tokensUsed + 999) / 1000
}

// creditPackages es el catálogo de compra en código, igual que los regalos.
var creditPackages = map[string]domain.CreditPackage{
	"starter": {ID: "starter", Credits: 100, Bonus: 0, PriceUSDCents: 499},
	"plus":    {ID: "plus", Credits: 500, Bonus: 50, PriceUSDCents: 1999},
	"whale":   {ID: "whale", Credits: 1000, Bonus: 200, PriceUSDCents: 4999},
}

/*
========================
 Servicio de billetera
========================
*/

var ErrWalletServiceNotConfigured = errors.New("wallet service not configured")

// WalletService implementa el núcleo financiero: refresh diario lazy,
// pre-check, deducción exacta por tokens y compra de paquetes. Toda mutación
// corre bajo lock de fila dentro de una transacción.
type WalletService struct {
	uow         repository.UnitOfWork
	wallets     repository.WalletRepository
	ledger      repository.LedgerRepository
	mockPayment bool
	logger      *zap.Logger
}

func NewWalletService(
	uow repository.UnitOfWork,
	wallets repository.WalletRepository,
	ledger repository.LedgerRepository,
	mockPayment bool,
	logger *zap.Logger,
) *WalletService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletService{uow: uow, wallets: wallets, ledger: ledger, mockPayment: mockPayment, logger: logger}
}

// Balance devuelve la billetera vigente, aplicando el refresh diario si tocaba.
func (s *WalletService) Balance(ctx context.Context, userID, tier string) (domain.Wallet, error) {
	var out domain.Wallet
	err := repository.RunInTx(ctx, s.uow, func(tx repository.Tx) error {
		w, err := s.lockOrCreate(ctx, tx, userID, tier)
		if err != nil {
			return err
		}
		if _, err := s.refreshDaily(ctx, tx, &w, tier, time.Now().UTC()); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

// PrecheckChat verifica fondos para un turno de chat con la cota estimada.
// El refresh diario se commitea aparte: queda aplicado aunque el check falle.
func (s *WalletService) PrecheckChat(ctx context.Context, userID, tier string) (domain.Wallet, error) {
	w, err := s.Balance(ctx, userID, tier)
	if err != nil {
		return w, err
	}
	estimated := estimatedChatCost(tier)
	if w.TotalCredits < estimated {
		return w, domain.NewCodedError(domain.CodeInsufficientCredits, "not enough credits for chat").
			With("required", estimated).
			With("current_balance", w.TotalCredits)
	}
	return w, nil
}

// DeductChat cobra el turno dentro de la transacción del caller (la misma que
// persiste los mensajes). Reverifica fondos bajo lock antes de descontar.
func (s *WalletService) DeductChat(ctx context.Context, tx repository.Tx, userID string, tokensUsed int, extra map[string]any) (domain.Wallet, int, error) {
	cost := chatCostFromTokens(tokensUsed)

	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return domain.Wallet{}, 0, fmt.Errorf("lock wallet: %w", err)
	}
	if w.TotalCredits < cost {
		return w, 0, domain.NewCodedError(domain.CodeInsufficientCredits, "not enough credits for chat").
			With("required", cost).
			With("current_balance", w.TotalCredits)
	}
	if err := deductPockets(&w, cost); err != nil {
		return w, 0, err
	}
	if err := tx.Wallets().Save(ctx, w); err != nil {
		return w, 0, fmt.Errorf("save wallet: %w", err)
	}

	entry := domain.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         domain.LedgerChatDeduction,
		Amount:       -cost,
		BalanceAfter: w.TotalCredits,
		Description:  "chat completion",
		ExtraData:    extra,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return w, 0, fmt.Errorf("append ledger: %w", err)
	}
	return w, cost, nil
}

// Purchase acredita un paquete comprado. Sin pasarela real solo funciona con
// el pago simulado; si no, devuelve EUNIMPLEMENTED.
func (s *WalletService) Purchase(ctx context.Context, userID, tier, packageID string) (domain.Wallet, error) {
	pkg, ok := creditPackages[packageID]
	if !ok {
		return domain.Wallet{}, domain.NewCodedError(domain.CodeValidation, "unknown credit package").
			With("package_id", packageID)
	}
	if !s.mockPayment {
		return domain.Wallet{}, domain.NewCodedError(domain.CodeUnimplemented, "payment provider not configured")
	}

	var out domain.Wallet
	err := repository.RunInTx(ctx, s.uow, func(tx repository.Tx) error {
		w, err := s.lockOrCreate(ctx, tx, userID, tier)
		if err != nil {
			return err
		}
		w.PurchasedCredits += pkg.Credits
		w.BonusCredits += pkg.Bonus
		w.Recompute()
		if err := tx.Wallets().Save(ctx, w); err != nil {
			return fmt.Errorf("save wallet: %w", err)
		}

		entry := domain.LedgerEntry{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         domain.LedgerPurchase,
			Amount:       pkg.Credits + pkg.Bonus,
			BalanceAfter: w.TotalCredits,
			Description:  "credit package " + pkg.ID,
			ExtraData: map[string]any{
				"package_id":      pkg.ID,
				"price_usd_cents": pkg.PriceUSDCents,
				"mock_payment":    true,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Ledger().Append(ctx, entry); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
		out = w
		return nil
	})
	return out, err
}

// Packages expone el catálogo de paquetes.
func (s *WalletService) Packages() []domain.CreditPackage {
	out := make([]domain.CreditPackage, 0, len(creditPackages))
	for _, id := range []string{"starter", "plus", "whale"} {
		out = append(out, creditPackages[id])
	}
	return out
}

// Transactions lista el libro del usuario, más reciente primero.
func (s *WalletService) Transactions(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, error) {
	if s == nil || s.ledger == nil {
		return nil, ErrWalletServiceNotConfigured
	}
	return s.ledger.ListByUser(ctx, userID, limit, offset)
}

/*
========================
 Internos
========================
*/

// lockOrCreate toma el lock de fila, creando la billetera en el primer acceso.
// La creación arranca con la asignación diaria completa y su asiento.
func (s *WalletService) lockOrCreate(ctx context.Context, tx repository.Tx, userID, tier string) (domain.Wallet, error) {
	w, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Wallet{}, fmt.Errorf("lock wallet: %w", err)
	}

	now := time.Now().UTC()
	w = domain.Wallet{
		UserID:           userID,
		DailyFreeCredits: tierDailyAllowance(tier),
		DailyRefreshedAt: now,
	}
	w.Recompute()
	if err := tx.Wallets().Create(ctx, w); err != nil {
		return domain.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	entry := domain.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         domain.LedgerDailyRefresh,
		Amount:       w.DailyFreeCredits,
		BalanceAfter: w.TotalCredits,
		Description:  "initial daily credits",
		CreatedAt:    now,
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return domain.Wallet{}, fmt.Errorf("append ledger: %w", err)
	}

	locked, err := tx.Wallets().GetForUpdate(ctx, userID)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("relock wallet: %w", err)
	}
	return locked, nil
}

// refreshDaily repone los créditos diarios si cambió el día UTC. Exactamente
// una vez por día: la comparación de fechas corre bajo el lock de fila.
func (s *WalletService) refreshDaily(ctx context.Context, tx repository.Tx, w *domain.Wallet, tier string, now time.Time) (bool, error) {
	if sameUTCDay(w.DailyRefreshedAt, now) {
		return false, nil
	}

	before := w.TotalCredits
	w.DailyFreeCredits = tierDailyAllowance(tier)
	w.DailyRefreshedAt = now
	w.Recompute()
	if err := tx.Wallets().Save(ctx, *w); err != nil {
		return false, fmt.Errorf("save wallet: %w", err)
	}

	entry := domain.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       w.UserID,
		Type:         domain.LedgerDailyRefresh,
		Amount:       w.TotalCredits - before,
		BalanceAfter: w.TotalCredits,
		Description:  "daily credits refresh",
		CreatedAt:    now,
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return false, fmt.Errorf("append ledger: %w", err)
	}
	return true, nil
}

// deductPockets descuenta respetando la prioridad daily → purchased → bonus.
func deductPockets(w *domain.Wallet, amount int) error {
	if amount < 0 || w.TotalCredits < amount {
		return domain.NewCodedError(domain.CodeInternal, "wallet would go negative").
			With("amount", amount).
			With("current_balance", w.TotalCredits)
	}

	take := func(pocket *int, remaining int) int {
		n := minInt(*pocket, remaining)
		*pocket -= n
		return remaining - n
	}
	remaining := amount
	remaining = take(&w.DailyFreeCredits, remaining)
	remaining = take(&w.PurchasedCredits, remaining)
	remaining = take(&w.BonusCredits, remaining)
	if remaining != 0 {
		return domain.NewCodedError(domain.CodeInternal, "wallet pockets out of sync").
			With("remaining", remaining)
	}
	w.Recompute()
	return nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
