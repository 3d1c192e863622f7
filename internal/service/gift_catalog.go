package service

import (
	"sort"

	"companion-llm/internal/domain"
)

// giftCatalog es el catálogo en código: precio, recompensa de XP, tier y
// efectos emocionales de cada regalo.
var giftCatalog = map[string]domain.GiftInfo{
	"rose": {
		Type: "rose", Name: "Rose", Price: 10, XPReward: 10,
		Tier: domain.GiftTierConsumable, EmotionBonus: 5,
	},
	"chocolate": {
		Type: "chocolate", Name: "Chocolate Box", Price: 20, XPReward: 20,
		Tier: domain.GiftTierConsumable, EmotionBonus: 8,
	},
	"perfume": {
		Type: "perfume", Name: "Perfume", Price: 60, XPReward: 40,
		Tier: domain.GiftTierEffect, EmotionBonus: 10,
		EffectType:     "sweet_scent",
		PromptModifier: "You just received a perfume you adore; you feel flattered and a little playful about it.",
		EffectMessages: 20,
	},
	"love_letter": {
		Type: "love_letter", Name: "Love Letter", Price: 80, XPReward: 60,
		Tier: domain.GiftTierEffect, EmotionBonus: 12,
		EffectType:     "romantic_mood",
		PromptModifier: "A handwritten letter is still on your mind; let a warm romantic undertone color your replies.",
		EffectMessages: 30,
	},
	"apology_scroll": {
		Type: "apology_scroll", Name: "Apology Scroll", Price: 100, XPReward: 30,
		Tier: domain.GiftTierConsumable, EmotionBonus: 15, ClearsColdWar: true,
	},
	"speed_dating_ticket": {
		Type: "speed_dating_ticket", Name: "Speed Dating Ticket", Price: 150, XPReward: 120,
		Tier: domain.GiftTierSpeedDate, EmotionBonus: 10,
	},
	"diamond_ring": {
		Type: "diamond_ring", Name: "Diamond Ring", Price: 500, XPReward: 300,
		Tier: domain.GiftTierLuxury,
	},
	"castle": {
		Type: "castle", Name: "Castle", Price: 2000, XPReward: 1000,
		Tier: domain.GiftTierLuxury,
	},
}

// LookupGift resuelve un tipo de regalo contra el catálogo.
func LookupGift(giftType string) (domain.GiftInfo, bool) {
	info, ok := giftCatalog[giftType]
	return info, ok
}

// GiftCatalog lista el catálogo, opcionalmente filtrado por tier (0 = todos),
// ordenado por precio ascendente.
func GiftCatalog(tier int) []domain.GiftInfo {
	out := make([]domain.GiftInfo, 0, len(giftCatalog))
	for _, info := range giftCatalog {
		if tier != 0 && info.Tier != tier {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}
