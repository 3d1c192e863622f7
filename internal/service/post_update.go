package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"companion-llm/internal/domain"
	"companion-llm/internal/repository"
)

const continuousChatThreshold = 3

// PostUpdateJob lleva todo lo resuelto durante el turno: el worker no vuelve
// a llamar al LLM principal ni al clasificador.
type PostUpdateJob struct {
	UserID      string
	CharacterID string
	SessionID   string
	Message     string
	ReplyText   string
	Intent      string
	RawDelta    int
	ParsedNSFW  bool
	AllowedTier string
	Difficulty  int
	Now         time.Time
}

// PostUpdateOutcome resume lo que el worker persistió, para logs y tests.
type PostUpdateOutcome struct {
	Emotion DeltaApplication
	Awards  []AwardResult
	Event   string
	Expired []string
}

// PostUpdater corre el post-procesamiento del turno fuera del camino de
// respuesta: delta emocional, XP, eventos, descuento de efectos y memoria.
// Con pool nil ejecuta inline, que es lo que usan los tests y el harness.
type PostUpdater struct {
	uow      repository.UnitOfWork
	emotion  *EmotionEngine
	intimacy IntimacyEngine
	memories *MemoryService
	pool     *ants.Pool
	logger   *zap.Logger

	wg sync.WaitGroup
}

func NewPostUpdater(
	uow repository.UnitOfWork,
	emotion *EmotionEngine,
	memories *MemoryService,
	pool *ants.Pool,
	logger *zap.Logger,
) *PostUpdater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostUpdater{
		uow:      uow,
		emotion:  emotion,
		memories: memories,
		pool:     pool,
		logger:   logger,
	}
}

// Submit encola el job; una tarea por request. Si el pool rechaza (saturado
// o cerrado) degrada a ejecución inline para no perder el estado.
func (p *PostUpdater) Submit(job PostUpdateJob) {
	p.wg.Add(1)
	task := func() {
		defer p.wg.Done()
		p.run(context.Background(), job)
	}
	if p.pool == nil {
		task()
		return
	}
	if err := p.pool.Submit(task); err != nil {
		p.logger.Debug("post-update pool rejected task, running inline", zap.Error(err))
		task()
	}
}

// Drain espera los jobs en vuelo hasta el timeout y libera el pool. Los que
// no llegan se pierden; el próximo turno del par reconcilia vía decay.
func (p *PostUpdater) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("post-update drain timed out, dropping in-flight jobs")
	}
	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *PostUpdater) run(ctx context.Context, job PostUpdateJob) {
	var outcome PostUpdateOutcome
	var err error
	for attempt := 0; attempt < stateWriteRetries; attempt++ {
		outcome, err = p.runOnce(ctx, job)
		if !errors.Is(err, errStateConflict) {
			break
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
	if err != nil {
		p.logger.Warn("post-update failed",
			zap.Error(err),
			zap.String("user_id", job.UserID),
			zap.String("character_id", job.CharacterID))
		return
	}

	// El buffer se confirma una sola vez, después del commit.
	p.emotion.Confirm(job.UserID, job.CharacterID, outcome.Emotion, job.Now)

	if p.memories != nil {
		p.memories.ObserveTurn(ctx, job.UserID, job.CharacterID, job.Message, job.ReplyText)
	}
}

func (p *PostUpdater) runOnce(ctx context.Context, job PostUpdateJob) (PostUpdateOutcome, error) {
	var outcome PostUpdateOutcome

	err := repository.RunInTx(ctx, p.uow, func(tx repository.Tx) error {
		outcome = PostUpdateOutcome{}

		st, err := loadOrCreateState(ctx, tx, job.UserID, job.CharacterID, job.Now)
		if err != nil {
			return err
		}

		p.emotion.Decay(&st, job.Now)

		app := p.emotion.Preview(job.UserID, job.CharacterID, st, job.RawDelta, job.Intent, job.Now)
		st.EmotionScore = app.ScoreAfter
		st.EmotionState = app.StateAfter
		st.EmotionUpdatedAt = job.Now
		outcome.Emotion = app

		history := domain.EmotionHistoryEntry{
			ID:          uuid.NewString(),
			UserID:      job.UserID,
			CharacterID: job.CharacterID,
			Delta:       app.AppliedDelta,
			ScoreAfter:  app.ScoreAfter,
			StateAfter:  app.StateAfter,
			Trigger:     "message:" + strings.ToLower(job.Intent),
			CreatedAt:   job.Now,
		}
		if err := tx.States().AppendEmotionHistory(ctx, history); err != nil {
			return fmt.Errorf("append emotion history: %w", err)
		}

		recent, err := tx.States().ListActionsSince(ctx, job.UserID, job.CharacterID, job.Now.Add(-dailyXPWindow))
		if err != nil {
			return fmt.Errorf("list recent actions: %w", err)
		}

		for _, action := range p.turnActions(job, recent) {
			res := p.intimacy.Award(&st, action, recent, job.Now)
			if res.Awarded <= 0 {
				continue
			}
			outcome.Awards = append(outcome.Awards, res)
			logEntry := domain.IntimacyActionLog{
				ID:          uuid.NewString(),
				UserID:      job.UserID,
				CharacterID: job.CharacterID,
				Action:      action,
				XPAwarded:   res.Awarded,
				CreatedAt:   job.Now,
			}
			if err := tx.States().LogAction(ctx, logEntry); err != nil {
				return fmt.Errorf("log action: %w", err)
			}
			recent = append(recent, logEntry)
		}

		event, _ := p.intimacy.TriggerEvent(&st, deriveTurnSignals(job.Intent, job.Message, job.ReplyText, job.AllowedTier, job.ParsedNSFW, st))
		outcome.Event = event

		if err := tx.States().Update(ctx, st); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				return errStateConflict
			}
			return fmt.Errorf("update state: %w", err)
		}

		expired, err := tx.Effects().Decrement(ctx, job.UserID, job.CharacterID)
		if err != nil {
			return fmt.Errorf("decrement effects: %w", err)
		}
		for _, e := range expired {
			outcome.Expired = append(outcome.Expired, e.EffectType)
		}
		return nil
	})
	return outcome, err
}

// turnActions decide qué acciones de intimidad premia este turno.
func (p *PostUpdater) turnActions(job PostUpdateJob, recent []domain.IntimacyActionLog) []string {
	actions := []string{ActionMessage}

	cutoff := job.Now.Add(-10 * time.Minute)
	recentMessages := 0
	for _, a := range recent {
		if a.Action == ActionMessage && a.CreatedAt.After(cutoff) {
			recentMessages++
		}
	}
	if recentMessages+1 >= continuousChatThreshold {
		actions = append(actions, ActionContinuousChat)
	}

	if job.Intent == domain.IntentExpressSadness || job.Intent == domain.IntentLoveConfession || job.Difficulty >= 7 {
		actions = append(actions, ActionEmotional)
	}
	return actions
}

// deriveTurnSignals deriva los hitos posibles del turno. first_gift lo
// dispara el camino de regalos, nunca este worker. El pipeline usa la misma
// derivación para el resumen eager.
func deriveTurnSignals(intent, message, reply, allowedTier string, parsedNSFW bool, st domain.UserState) TurnSignals {
	combined := normalize(message + " " + reply)
	kissWords := containsAny(combined, []string{"kiss", "beso", "besar", "besame"})

	return TurnSignals{
		Confession: intent == domain.IntentLoveConfession,
		Kiss:       kissWords && tierRank[allowedTier] >= tierRank[domain.ContentTierIntimate],
		Date:       intent == domain.IntentInvitation && stageAtLeast(st.IntimacyStage, domain.StageAmbiguous),
		NSFW:       parsedNSFW && allowedTier == domain.ContentTierPassionate,
	}
}

// stageAtLeast compara etapas por su orden de progresión.
func stageAtLeast(stage, floor string) bool {
	order := map[string]int{
		domain.StageStrangers:     0,
		domain.StageAcquaintances: 1,
		domain.StageCloseFriends:  2,
		domain.StageAmbiguous:     3,
		domain.StageSoulmates:     4,
	}
	return order[stage] >= order[floor]
}
