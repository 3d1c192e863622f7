package domain

import "time"

// Tipos de asiento en el libro de transacciones.
const (
	LedgerDailyRefresh        = "daily_refresh"
	LedgerChatDeduction       = "chat_deduction"
	LedgerGift                = "gift"
	LedgerPurchase            = "purchase"
	LedgerStaminaPurchase     = "stamina_purchase"
	LedgerSubscriptionExpired = "subscription_expired"
)

// Wallet lleva los tres bolsillos de créditos de un usuario. Invariante:
// TotalCredits == Daily + Purchased + Bonus >= 0 en todo límite de transacción.
// Prioridad de descuento: daily → purchased → bonus.
type Wallet struct {
	UserID           string    `json:"user_id"`
	DailyFreeCredits int       `json:"daily_free_credits"`
	PurchasedCredits int       `json:"purchased_credits"`
	BonusCredits     int       `json:"bonus_credits"`
	TotalCredits     int       `json:"total_credits"`
	DailyRefreshedAt time.Time `json:"daily_refreshed_at"`
}

// Recompute vuelve a derivar el total desde los tres bolsillos.
func (w *Wallet) Recompute() { w.TotalCredits = w.DailyFreeCredits + w.PurchasedCredits + w.BonusCredits }

// Stamina es el sistema paralelo de energía gratuita: 1 por mensaje,
// reset a Max en el primer acceso tras el cambio de día UTC.
type Stamina struct {
	UserID      string    `json:"user_id"`
	Current     int       `json:"current"`
	Max         int       `json:"max"`
	LastResetAt time.Time `json:"last_reset_at"`
}

// LedgerEntry es append-only; todo cambio de saldo deja exactamente un asiento
// con balance_after estampado.
type LedgerEntry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Type         string         `json:"type"`
	Amount       int            `json:"amount"`
	BalanceAfter int            `json:"balance_after"`
	Description  string         `json:"description"`
	ExtraData    map[string]any `json:"extra_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CreditPackage describe un paquete comprable de créditos.
type CreditPackage struct {
	ID            string `json:"id"`
	Credits       int    `json:"credits"`
	Bonus         int    `json:"bonus"`
	PriceUSDCents int    `json:"price_usd_cents"`
}
