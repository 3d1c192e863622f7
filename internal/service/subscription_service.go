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

// tierFeatures mapea plan efectivo → capacidades habilitadas.
var tierFeatures = map[string][]string{
	domain.TierFree: {},
	domain.TierPremium: {
		domain.FeatureNSFWEnabled,
		domain.FeaturePremiumCharacters,
		domain.FeatureVoiceMessages,
	},
	domain.TierVIP: {
		domain.FeatureNSFWEnabled,
		domain.FeaturePremiumCharacters,
		domain.FeatureVoiceMessages,
		domain.FeatureLongHistory,
	},
}

var ErrSubscriptionServiceNotConfigured = errors.New("subscription service not configured")

// SubscriptionService es la única fuente de verdad del tier: todo consumidor
// pasa por EffectiveTier, que degrada in-place al detectar expiración.
type SubscriptionService struct {
	subs    repository.SubscriptionRepository
	wallets repository.WalletRepository
	ledger  repository.LedgerRepository
	logger  *zap.Logger
}

func NewSubscriptionService(
	subs repository.SubscriptionRepository,
	wallets repository.WalletRepository,
	ledger repository.LedgerRepository,
	logger *zap.Logger,
) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{subs: subs, wallets: wallets, ledger: ledger, logger: logger}
}

// EffectiveTier devuelve el tier vigente. Si el plan venció lo degrada a free
// en el momento y deja el asiento subscription_expired; la degradación ocurre
// una sola vez porque el plan queda guardado ya en free.
func (s *SubscriptionService) EffectiveTier(ctx context.Context, userID string) (string, error) {
	if s == nil || s.subs == nil {
		return domain.TierFree, ErrSubscriptionServiceNotConfigured
	}

	sub, err := s.subs.Get(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.TierFree, nil
	}
	if err != nil {
		return domain.TierFree, fmt.Errorf("get subscription: %w", err)
	}

	now := time.Now().UTC()
	if !sub.ExpiredAt(now) {
		return sub.Tier, nil
	}

	expiredTier := sub.Tier
	sub.Tier = domain.TierFree
	sub.AutoRenew = false
	if err := s.subs.Save(ctx, sub); err != nil {
		return domain.TierFree, fmt.Errorf("downgrade subscription: %w", err)
	}

	balance := 0
	if wallet, werr := s.wallets.Get(ctx, userID); werr == nil {
		balance = wallet.TotalCredits
	}
	entry := domain.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         domain.LedgerSubscriptionExpired,
		Amount:       0,
		BalanceAfter: balance,
		Description:  "subscription expired, downgraded to free",
		ExtraData:    map[string]any{"previous_tier": expiredTier},
		CreatedAt:    now,
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.logger.Warn("subscription downgrade ledger append failed",
			zap.Error(err), zap.String("user_id", userID))
	}
	s.logger.Info("subscription expired",
		zap.String("user_id", userID), zap.String("previous_tier", expiredTier))

	return domain.TierFree, nil
}

// HasFeature consulta una capacidad contra el tier efectivo.
func (s *SubscriptionService) HasFeature(ctx context.Context, userID, feature string) (bool, error) {
	tier, err := s.EffectiveTier(ctx, userID)
	if err != nil {
		return false, err
	}
	return tierHasFeature(tier, feature), nil
}

// tierHasFeature evalúa una capacidad sobre un tier ya resuelto.
func tierHasFeature(tier, feature string) bool {
	for _, f := range tierFeatures[tier] {
		if f == feature {
			return true
		}
	}
	return false
}

// Grant asigna (o renueva) un plan. Lo usan el seed de dev y los tests.
func (s *SubscriptionService) Grant(ctx context.Context, userID, tier string, expiresAt *time.Time) error {
	if s == nil || s.subs == nil {
		return ErrSubscriptionServiceNotConfigured
	}
	switch tier {
	case domain.TierFree, domain.TierPremium, domain.TierVIP:
	default:
		return domain.NewCodedError(domain.CodeValidation, "unknown subscription tier").With("tier", tier)
	}
	return s.subs.Save(ctx, domain.Subscription{
		UserID:    userID,
		Tier:      tier,
		StartedAt: time.Now().UTC(),
		ExpiresAt: expiresAt,
		AutoRenew: false,
	})
}
