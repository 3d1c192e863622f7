package repository

import (
	"context"
	"sync"

	"companion-llm/internal/domain"
)

// MemStore es el backend completo en memoria (MOCK_DATABASE=true y tests).
// Un lock global serializa las transacciones, que es exactamente la garantía
// que el motor pide de los locks de fila; el rollback restaura un snapshot.
type MemStore struct {
	mu sync.Mutex

	sessions      map[string]domain.Session
	sessionByPair map[string]string
	messages      map[string][]domain.Message
	states        map[string]domain.UserState
	actions       map[string][]domain.IntimacyActionLog
	emotions      map[string][]domain.EmotionHistoryEntry
	wallets       map[string]domain.Wallet
	stamina       map[string]domain.Stamina
	gifts         map[string]domain.Gift
	giftIdem      map[string]domain.IdempotencyRecord
	effects       map[string][]domain.ActiveEffect
	subs          map[string]domain.Subscription
	ledger        map[string][]domain.LedgerEntry
	profiles      map[string]domain.UserProfile
	memories      map[string][]domain.MemoryFact
}

func NewMemStore() *MemStore {
	return &MemStore{
		sessions:      map[string]domain.Session{},
		sessionByPair: map[string]string{},
		messages:      map[string][]domain.Message{},
		states:        map[string]domain.UserState{},
		actions:       map[string][]domain.IntimacyActionLog{},
		emotions:      map[string][]domain.EmotionHistoryEntry{},
		wallets:       map[string]domain.Wallet{},
		stamina:       map[string]domain.Stamina{},
		gifts:         map[string]domain.Gift{},
		giftIdem:      map[string]domain.IdempotencyRecord{},
		effects:       map[string][]domain.ActiveEffect{},
		subs:          map[string]domain.Subscription{},
		ledger:        map[string][]domain.LedgerEntry{},
		profiles:      map[string]domain.UserProfile{},
		memories:      map[string][]domain.MemoryFact{},
	}
}

func pairKey(userID, characterID string) string { return userID + "|" + characterID }

// run toma el lock global salvo que el caller ya esté dentro de una transacción.
func (m *MemStore) run(inTx bool, fn func()) {
	if !inTx {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	fn()
}

/* ======================== Unidad de trabajo ======================== */

// Begin serializa: la transacción retiene el lock global hasta commit/rollback.
func (m *MemStore) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	return &memTx{store: m, snap: m.snapshot()}, nil
}

type memTx struct {
	store *MemStore
	snap  *memSnapshot
	done  bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.restore(t.snap)
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Sessions() SessionRepository           { return &memSessionRepo{store: t.store, inTx: true} }
func (t *memTx) Messages() MessageRepository           { return &memMessageRepo{store: t.store, inTx: true} }
func (t *memTx) States() UserStateRepository           { return &memStateRepo{store: t.store, inTx: true} }
func (t *memTx) Wallets() WalletRepository             { return &memWalletRepo{store: t.store, inTx: true} }
func (t *memTx) Stamina() StaminaRepository            { return &memStaminaRepo{store: t.store, inTx: true} }
func (t *memTx) Gifts() GiftRepository                 { return &memGiftRepo{store: t.store, inTx: true} }
func (t *memTx) Effects() EffectRepository             { return &memEffectRepo{store: t.store, inTx: true} }
func (t *memTx) Subscriptions() SubscriptionRepository { return &memSubRepo{store: t.store, inTx: true} }
func (t *memTx) Ledger() LedgerRepository              { return &memLedgerRepo{store: t.store, inTx: true} }

/* ======================== Accesores standalone ======================== */

func (m *MemStore) Sessions() SessionRepository           { return &memSessionRepo{store: m} }
func (m *MemStore) Messages() MessageRepository           { return &memMessageRepo{store: m} }
func (m *MemStore) States() UserStateRepository           { return &memStateRepo{store: m} }
func (m *MemStore) Wallets() WalletRepository             { return &memWalletRepo{store: m} }
func (m *MemStore) Stamina() StaminaRepository            { return &memStaminaRepo{store: m} }
func (m *MemStore) Gifts() GiftRepository                 { return &memGiftRepo{store: m} }
func (m *MemStore) Effects() EffectRepository             { return &memEffectRepo{store: m} }
func (m *MemStore) Subscriptions() SubscriptionRepository { return &memSubRepo{store: m} }
func (m *MemStore) Ledger() LedgerRepository              { return &memLedgerRepo{store: m} }
func (m *MemStore) Profiles() UserProfileRepository       { return &memProfileRepo{store: m} }
func (m *MemStore) Memories() MemoryRepository            { return &memMemoryRepo{store: m} }

/* ======================== Snapshot / restore ======================== */

type memSnapshot struct {
	sessions      map[string]domain.Session
	sessionByPair map[string]string
	messages      map[string][]domain.Message
	states        map[string]domain.UserState
	actions       map[string][]domain.IntimacyActionLog
	emotions      map[string][]domain.EmotionHistoryEntry
	wallets       map[string]domain.Wallet
	stamina       map[string]domain.Stamina
	gifts         map[string]domain.Gift
	giftIdem      map[string]domain.IdempotencyRecord
	effects       map[string][]domain.ActiveEffect
	subs          map[string]domain.Subscription
	ledger        map[string][]domain.LedgerEntry
	profiles      map[string]domain.UserProfile
	memories      map[string][]domain.MemoryFact
}

func (m *MemStore) snapshot() *memSnapshot {
	return &memSnapshot{
		sessions:      cloneMap(m.sessions),
		sessionByPair: cloneMap(m.sessionByPair),
		messages:      cloneSliceMap(m.messages),
		states:        cloneStates(m.states),
		actions:       cloneSliceMap(m.actions),
		emotions:      cloneSliceMap(m.emotions),
		wallets:       cloneMap(m.wallets),
		stamina:       cloneMap(m.stamina),
		gifts:         cloneMap(m.gifts),
		giftIdem:      cloneMap(m.giftIdem),
		effects:       cloneSliceMap(m.effects),
		subs:          cloneMap(m.subs),
		ledger:        cloneSliceMap(m.ledger),
		profiles:      cloneMap(m.profiles),
		memories:      cloneSliceMap(m.memories),
	}
}

func (m *MemStore) restore(s *memSnapshot) {
	m.sessions = s.sessions
	m.sessionByPair = s.sessionByPair
	m.messages = s.messages
	m.states = s.states
	m.actions = s.actions
	m.emotions = s.emotions
	m.wallets = s.wallets
	m.stamina = s.stamina
	m.gifts = s.gifts
	m.giftIdem = s.giftIdem
	m.effects = s.effects
	m.subs = s.subs
	m.ledger = s.ledger
	m.profiles = s.profiles
	m.memories = s.memories
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneSliceMap[K comparable, V any](src map[K][]V) map[K][]V {
	dst := make(map[K][]V, len(src))
	for k, v := range src {
		cp := make([]V, len(v))
		copy(cp, v)
		dst[k] = cp
	}
	return dst
}

// cloneStates copia también el slice de eventos, que los callers extienden.
func cloneStates(src map[string]domain.UserState) map[string]domain.UserState {
	dst := make(map[string]domain.UserState, len(src))
	for k, v := range src {
		dst[k] = cloneState(v)
	}
	return dst
}

func cloneState(st domain.UserState) domain.UserState {
	if st.Events != nil {
		events := make([]string, len(st.Events))
		copy(events, st.Events)
		st.Events = events
	}
	return st
}
