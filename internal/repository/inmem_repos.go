package repository

import (
	"context"
	"math"
	"sort"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"companion-llm/internal/domain"
)

/* ======================== Sesiones ======================== */

type memSessionRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memSessionRepo) GetOrCreate(ctx context.Context, session domain.Session) (domain.Session, bool, error) {
	var out domain.Session
	var created bool
	r.store.run(r.inTx, func() {
		key := pairKey(session.UserID, session.CharacterID)
		if id, ok := r.store.sessionByPair[key]; ok {
			out = r.store.sessions[id]
			return
		}
		session.UpdatedAt = session.CreatedAt
		r.store.sessions[session.ID] = session
		r.store.sessionByPair[key] = session.ID
		out = session
		created = true
	})
	return out, created, nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (domain.Session, error) {
	var out domain.Session
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if s, ok := r.store.sessions[id]; ok && s.Active() {
			out, err = s, nil
		}
	})
	return out, err
}

func (r *memSessionRepo) Lock(ctx context.Context, id string) (domain.Session, error) {
	return r.GetByID(ctx, id)
}

func (r *memSessionRepo) ListByUser(ctx context.Context, userID, characterID string) ([]domain.Session, error) {
	var out []domain.Session
	r.store.run(r.inTx, func() {
		for _, s := range r.store.sessions {
			if s.UserID != userID || !s.Active() {
				continue
			}
			if characterID != "" && s.CharacterID != characterID {
				continue
			}
			out = append(out, s)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *memSessionRepo) AddCounters(ctx context.Context, id string, messages, credits int) error {
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		s, ok := r.store.sessions[id]
		if !ok || !s.Active() {
			return
		}
		s.TotalMessages += messages
		s.CreditsSpent += credits
		s.UpdatedAt = time.Now().UTC()
		r.store.sessions[id] = s
		err = nil
	})
	return err
}

func (r *memSessionRepo) SoftDelete(ctx context.Context, id, userID string) error {
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		s, ok := r.store.sessions[id]
		if !ok || s.UserID != userID || !s.Active() {
			return
		}
		now := time.Now().UTC()
		s.DeletedAt = &now
		s.UpdatedAt = now
		r.store.sessions[id] = s
		delete(r.store.sessionByPair, pairKey(s.UserID, s.CharacterID))
		err = nil
	})
	return err
}

/* ======================== Mensajes ======================== */

type memMessageRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memMessageRepo) Append(ctx context.Context, message domain.Message) error {
	r.store.run(r.inTx, func() {
		r.store.messages[message.SessionID] = append(r.store.messages[message.SessionID], message)
	})
	return nil
}

func (r *memMessageRepo) ListRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Message
	r.store.run(r.inTx, func() {
		all := r.store.messages[sessionID]
		start := len(all) - limit
		if start < 0 {
			start = 0
		}
		out = append(out, all[start:]...)
	})
	return out, nil
}

func (r *memMessageRepo) ListPage(ctx context.Context, sessionID string, limit int, beforeID, afterID string) ([]domain.Message, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Message
	var hasMore bool
	r.store.run(r.inTx, func() {
		all := r.store.messages[sessionID]
		anchor := func(id string) int {
			for i, m := range all {
				if m.ID == id {
					return i
				}
			}
			return -1
		}
		switch {
		case beforeID != "":
			idx := anchor(beforeID)
			if idx <= 0 {
				return
			}
			start := idx - limit
			if start < 0 {
				start = 0
			}
			out = append(out, all[start:idx]...)
			hasMore = start > 0
		case afterID != "":
			idx := anchor(afterID)
			if idx < 0 || idx+1 >= len(all) {
				return
			}
			end := idx + 1 + limit
			if end > len(all) {
				end = len(all)
			}
			out = append(out, all[idx+1:end]...)
			hasMore = end < len(all)
		default:
			start := len(all) - limit
			if start < 0 {
				start = 0
			}
			out = append(out, all[start:]...)
			hasMore = start > 0
		}
	})
	return out, hasMore, nil
}

/* ======================== Estado de relación ======================== */

type memStateRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memStateRepo) Get(ctx context.Context, userID, characterID string) (domain.UserState, error) {
	var out domain.UserState
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if st, ok := r.store.states[pairKey(userID, characterID)]; ok {
			out, err = cloneState(st), nil
		}
	})
	return out, err
}

func (r *memStateRepo) Create(ctx context.Context, state domain.UserState) error {
	err := ErrDuplicate
	r.store.run(r.inTx, func() {
		key := pairKey(state.UserID, state.CharacterID)
		if _, ok := r.store.states[key]; ok {
			return
		}
		state.Version = 1
		r.store.states[key] = cloneState(state)
		err = nil
	})
	return err
}

func (r *memStateRepo) Update(ctx context.Context, state domain.UserState) error {
	err := ErrVersionConflict
	r.store.run(r.inTx, func() {
		key := pairKey(state.UserID, state.CharacterID)
		current, ok := r.store.states[key]
		if !ok || current.Version != state.Version {
			return
		}
		state.Version++
		r.store.states[key] = cloneState(state)
		err = nil
	})
	return err
}

func (r *memStateRepo) LogAction(ctx context.Context, entry domain.IntimacyActionLog) error {
	r.store.run(r.inTx, func() {
		key := pairKey(entry.UserID, entry.CharacterID)
		r.store.actions[key] = append(r.store.actions[key], entry)
	})
	return nil
}

func (r *memStateRepo) ListActionsSince(ctx context.Context, userID, characterID string, since time.Time) ([]domain.IntimacyActionLog, error) {
	var out []domain.IntimacyActionLog
	r.store.run(r.inTx, func() {
		for _, e := range r.store.actions[pairKey(userID, characterID)] {
			if !e.CreatedAt.Before(since) {
				out = append(out, e)
			}
		}
	})
	return out, nil
}

func (r *memStateRepo) AppendEmotionHistory(ctx context.Context, entry domain.EmotionHistoryEntry) error {
	r.store.run(r.inTx, func() {
		key := pairKey(entry.UserID, entry.CharacterID)
		r.store.emotions[key] = append(r.store.emotions[key], entry)
	})
	return nil
}

func (r *memStateRepo) ListEmotionHistory(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.EmotionHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.EmotionHistoryEntry
	r.store.run(r.inTx, func() {
		all := r.store.emotions[pairKey(userID, characterID)]
		// Orden descendente por inserción, como la consulta SQL equivalente.
		for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
			out = append(out, all[i])
		}
	})
	return out, nil
}

/* ======================== Billetera y stamina ======================== */

type memWalletRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memWalletRepo) Get(ctx context.Context, userID string) (domain.Wallet, error) {
	var out domain.Wallet
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if w, ok := r.store.wallets[userID]; ok {
			out, err = w, nil
		}
	})
	return out, err
}

func (r *memWalletRepo) GetForUpdate(ctx context.Context, userID string) (domain.Wallet, error) {
	return r.Get(ctx, userID)
}

func (r *memWalletRepo) Create(ctx context.Context, wallet domain.Wallet) error {
	r.store.run(r.inTx, func() {
		if _, ok := r.store.wallets[wallet.UserID]; !ok {
			r.store.wallets[wallet.UserID] = wallet
		}
	})
	return nil
}

func (r *memWalletRepo) Save(ctx context.Context, wallet domain.Wallet) error {
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if _, ok := r.store.wallets[wallet.UserID]; ok {
			r.store.wallets[wallet.UserID] = wallet
			err = nil
		}
	})
	return err
}

type memStaminaRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memStaminaRepo) Get(ctx context.Context, userID string) (domain.Stamina, error) {
	var out domain.Stamina
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if s, ok := r.store.stamina[userID]; ok {
			out, err = s, nil
		}
	})
	return out, err
}

func (r *memStaminaRepo) GetForUpdate(ctx context.Context, userID string) (domain.Stamina, error) {
	return r.Get(ctx, userID)
}

func (r *memStaminaRepo) Create(ctx context.Context, stamina domain.Stamina) error {
	r.store.run(r.inTx, func() {
		if _, ok := r.store.stamina[stamina.UserID]; !ok {
			r.store.stamina[stamina.UserID] = stamina
		}
	})
	return nil
}

func (r *memStaminaRepo) Save(ctx context.Context, stamina domain.Stamina) error {
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if _, ok := r.store.stamina[stamina.UserID]; ok {
			r.store.stamina[stamina.UserID] = stamina
			err = nil
		}
	})
	return err
}

/* ======================== Regalos e idempotencia ======================== */

type memGiftRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memGiftRepo) Create(ctx context.Context, gift domain.Gift) error {
	var err error
	r.store.run(r.inTx, func() {
		for _, g := range r.store.gifts {
			if g.UserID == gift.UserID && g.IdempotencyKey == gift.IdempotencyKey {
				err = ErrDuplicate
				return
			}
		}
		r.store.gifts[gift.ID] = gift
	})
	return err
}

func (r *memGiftRepo) GetByID(ctx context.Context, id string) (domain.Gift, error) {
	var out domain.Gift
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if g, ok := r.store.gifts[id]; ok {
			out, err = g, nil
		}
	})
	return out, err
}

func (r *memGiftRepo) UpdateStatus(ctx context.Context, id, status string, acknowledgedAt *time.Time) error {
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		g, ok := r.store.gifts[id]
		if !ok {
			return
		}
		g.Status = status
		g.AcknowledgedAt = acknowledgedAt
		r.store.gifts[id] = g
		err = nil
	})
	return err
}

func (r *memGiftRepo) ListByUser(ctx context.Context, userID, characterID string, limit, offset int) ([]domain.Gift, error) {
	if limit <= 0 {
		limit = 50
	}
	var all []domain.Gift
	r.store.run(r.inTx, func() {
		for _, g := range r.store.gifts {
			if g.UserID != userID {
				continue
			}
			if characterID != "" && g.CharacterID != characterID {
				continue
			}
			all = append(all, g)
		}
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memGiftRepo) ListPendingAck(ctx context.Context, limit int) ([]domain.Gift, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.Gift
	r.store.run(r.inTx, func() {
		for _, g := range r.store.gifts {
			if g.Status == domain.GiftPending {
				out = append(out, g)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memGiftRepo) GetIdempotency(ctx context.Context, userID, key string) (domain.IdempotencyRecord, error) {
	var out domain.IdempotencyRecord
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if rec, ok := r.store.giftIdem[pairKey(userID, key)]; ok {
			out, err = rec, nil
		}
	})
	return out, err
}

func (r *memGiftRepo) PutIdempotency(ctx context.Context, record domain.IdempotencyRecord) error {
	r.store.run(r.inTx, func() {
		r.store.giftIdem[pairKey(record.UserID, record.Key)] = record
	})
	return nil
}

/* ======================== Efectos activos ======================== */

type memEffectRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memEffectRepo) ListActive(ctx context.Context, userID, characterID string) ([]domain.ActiveEffect, error) {
	var out []domain.ActiveEffect
	r.store.run(r.inTx, func() {
		out = append(out, r.store.effects[pairKey(userID, characterID)]...)
	})
	return out, nil
}

func (r *memEffectRepo) ReplaceByType(ctx context.Context, effect domain.ActiveEffect) error {
	r.store.run(r.inTx, func() {
		key := pairKey(effect.UserID, effect.CharacterID)
		kept := r.store.effects[key][:0:0]
		for _, e := range r.store.effects[key] {
			if e.EffectType != effect.EffectType {
				kept = append(kept, e)
			}
		}
		r.store.effects[key] = append(kept, effect)
	})
	return nil
}

func (r *memEffectRepo) Decrement(ctx context.Context, userID, characterID string) ([]domain.ActiveEffect, error) {
	var expired []domain.ActiveEffect
	r.store.run(r.inTx, func() {
		key := pairKey(userID, characterID)
		var kept []domain.ActiveEffect
		for _, e := range r.store.effects[key] {
			e.RemainingMessages--
			if e.RemainingMessages <= 0 {
				expired = append(expired, e)
				continue
			}
			kept = append(kept, e)
		}
		r.store.effects[key] = kept
	})
	return expired, nil
}

/* ======================== Suscripciones y ledger ======================== */

type memSubRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memSubRepo) Get(ctx context.Context, userID string) (domain.Subscription, error) {
	var out domain.Subscription
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if s, ok := r.store.subs[userID]; ok {
			out, err = s, nil
		}
	})
	return out, err
}

func (r *memSubRepo) Save(ctx context.Context, subscription domain.Subscription) error {
	r.store.run(r.inTx, func() {
		r.store.subs[subscription.UserID] = subscription
	})
	return nil
}

type memLedgerRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memLedgerRepo) Append(ctx context.Context, entry domain.LedgerEntry) error {
	r.store.run(r.inTx, func() {
		r.store.ledger[entry.UserID] = append(r.store.ledger[entry.UserID], entry)
	})
	return nil
}

func (r *memLedgerRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.LedgerEntry
	r.store.run(r.inTx, func() {
		all := r.store.ledger[userID]
		for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
			out = append(out, all[i])
		}
	})
	return out, nil
}

func (r *memLedgerRepo) CountByTypeSince(ctx context.Context, userID, entryType string, since time.Time) (int, error) {
	count := 0
	r.store.run(r.inTx, func() {
		for _, e := range r.store.ledger[userID] {
			if e.Type == entryType && !e.CreatedAt.Before(since) {
				count++
			}
		}
	})
	return count, nil
}

/* ======================== Perfiles y memoria ======================== */

type memProfileRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memProfileRepo) Get(ctx context.Context, userID string) (domain.UserProfile, error) {
	var out domain.UserProfile
	err := ErrNotFound
	r.store.run(r.inTx, func() {
		if p, ok := r.store.profiles[userID]; ok {
			out, err = p, nil
		}
	})
	return out, err
}

func (r *memProfileRepo) Upsert(ctx context.Context, profile domain.UserProfile) error {
	r.store.run(r.inTx, func() {
		r.store.profiles[profile.UserID] = profile
	})
	return nil
}

type memMemoryRepo struct {
	store *MemStore
	inTx  bool
}

func (r *memMemoryRepo) Upsert(ctx context.Context, memory domain.MemoryFact) error {
	r.store.run(r.inTx, func() {
		key := pairKey(memory.UserID, memory.CharacterID)
		for i, m := range r.store.memories[key] {
			if m.ID == memory.ID {
				r.store.memories[key][i] = memory
				return
			}
		}
		r.store.memories[key] = append(r.store.memories[key], memory)
	})
	return nil
}

func (r *memMemoryRepo) Search(ctx context.Context, userID, characterID string, queryEmbedding pgvector.Vector, topK int) ([]MemoryMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	var matches []MemoryMatch
	r.store.run(r.inTx, func() {
		for _, m := range r.store.memories[pairKey(userID, characterID)] {
			matches = append(matches, MemoryMatch{
				Fact:  m,
				Score: cosineSimilarity(queryEmbedding.Slice(), m.Embedding.Slice()),
			})
		}
	})
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (r *memMemoryRepo) ListByPair(ctx context.Context, userID, characterID string, limit int) ([]domain.MemoryFact, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.MemoryFact
	r.store.run(r.inTx, func() {
		out = append(out, r.store.memories[pairKey(userID, characterID)]...)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].HappenedAt.After(out[j].HappenedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
