package service

import (
	"math"
	"sync"
	"time"

	"companion-llm/internal/domain"
)

/*
========================
 Constantes del motor
========================
*/

const (
	emotionBufferSize = 5
	maxSingleDelta    = 50

	negativeCooldown   = 60 * time.Second
	negativeWindowSpan = 5 * time.Minute
	positiveWindowSpan = 10 * time.Minute
	diminishWindowSpan = 5 * time.Minute

	apologyRecovery = 5
	apologyCeiling  = -50

	decayAfter        = time.Hour
	negativeDecayRate = 3.0 // puntos por hora hacia 0
	positiveDecayRate = 1.0 // puntos por hora para scores > 50
	decayFloorColdWar = -75 // el decay nunca saca al par de esta zona
)

// diminishFactors escala deltas positivos consecutivos dentro de la ventana
// de 5 minutos. Es el único mecanismo anti-farming.
var diminishFactors = [...]float64{1.0, 0.7, 0.4, 0.2, 0.1}

/*
========================
 Buffers por par
========================
*/

type bufferEntry struct {
	delta  int
	intent string
	at     time.Time
}

type appliedEntry struct {
	delta int
	at    time.Time
}

// pairBuffer guarda la ventana emocional de un par usuario↔personaje.
// Vive solo en memoria: si se pierde se reconstruye desde el historial.
type pairBuffer struct {
	mu             sync.Mutex
	entries        []bufferEntry
	applied        []appliedEntry
	lastNegativeAt time.Time
}

/*
========================
 Motor emocional
========================
*/

// DeltaApplication resume un delta aplicado (o previsualizado) sobre el estado.
type DeltaApplication struct {
	RawDelta     int     `json:"raw_delta"`
	AppliedDelta int     `json:"applied_delta"`
	ScoreBefore  int     `json:"score_before"`
	ScoreAfter   int     `json:"score_after"`
	StateBefore  string  `json:"state_before"`
	StateAfter   string  `json:"state_after"`
	BufferScale  float64 `json:"buffer_scale"`
	DiminishedBy float64 `json:"diminished_by"`
	RequiresGift bool    `json:"requires_gift,omitempty"`
	Trigger      string  `json:"trigger,omitempty"`
}

// EmotionEngine aplica deltas emocionales con buffers, cooldowns y decay.
// Los buffers se protegen con un lock por par; las secciones críticas son
// puro cómputo, nunca I/O.
type EmotionEngine struct {
	mu    sync.Mutex
	pairs map[string]*pairBuffer
}

func NewEmotionEngine() *EmotionEngine {
	return &EmotionEngine{pairs: make(map[string]*pairBuffer)}
}

func (e *EmotionEngine) buffer(userID, characterID string) *pairBuffer {
	key := userID + "|" + characterID
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.pairs[key]
	if !ok {
		b = &pairBuffer{}
		e.pairs[key] = b
	}
	return b
}

// CombineDelta elige el delta crudo del turno: el del modelo si el parse fue
// exitoso, si no la sugerencia del analista, y como piso el delta de reglas.
// Los modificadores de personalidad amplifican según el signo.
func (e *EmotionEngine) CombineDelta(pre domain.PrecomputeResult, reply domain.CompanionReply, analysis *domain.EmotionAnalysis, card domain.CharacterCard) int {
	delta := pre.BaseDelta
	switch {
	case reply.ParseSuccess:
		delta = reply.EmotionDelta
	case analysis != nil:
		delta = clampDelta(analysis.SuggestedDelta)
	}

	sensitivity := card.Sensitivity
	if sensitivity <= 0 {
		sensitivity = 1
	}
	forgiveness := card.ForgivenessRate
	if forgiveness <= 0 {
		forgiveness = 1
	}

	scaled := float64(delta)
	if delta < 0 {
		scaled *= sensitivity
	} else if delta > 0 {
		scaled *= forgiveness
	}
	return int(math.Round(scaled))
}

// Preview calcula el resultado del delta sin mutar ni el buffer ni el estado.
// El pipeline lo usa para adjuntar el resumen a extra_data antes del commit
// asíncrono.
func (e *EmotionEngine) Preview(userID, characterID string, st domain.UserState, rawDelta int, intent string, now time.Time) DeltaApplication {
	return e.evaluate(userID, characterID, &st, rawDelta, intent, now, false)
}

// ApplyDelta aplica el delta sobre el estado y registra la entrada en el
// buffer del par. El caller persiste el estado resultante.
func (e *EmotionEngine) ApplyDelta(userID, characterID string, st *domain.UserState, rawDelta int, intent string, now time.Time) DeltaApplication {
	return e.evaluate(userID, characterID, st, rawDelta, intent, now, true)
}

func (e *EmotionEngine) evaluate(userID, characterID string, st *domain.UserState, rawDelta int, intent string, now time.Time, commit bool) DeltaApplication {
	b := e.buffer(userID, characterID)
	b.mu.Lock()
	defer b.mu.Unlock()

	app := DeltaApplication{
		RawDelta:    rawDelta,
		ScoreBefore: st.EmotionScore,
		StateBefore: st.EmotionState,
		BufferScale: 1,
		Trigger:     intent,
	}

	scaled := float64(rawDelta)
	switch {
	case rawDelta < 0:
		scale := 1.0
		if !b.lastNegativeAt.IsZero() && now.Sub(b.lastNegativeAt) < negativeCooldown {
			scale *= 0.5
		}
		scale *= negativeAccumScale(b.negativeSum(now))
		app.BufferScale = scale
		scaled *= scale
	case rawDelta > 0:
		scale := 1.0
		if b.positiveCount(now) >= 3 {
			scale = 1.3
		}
		app.BufferScale = scale
		scaled *= scale

		factor := diminishFactors[minInt(b.consecutivePositives(now), len(diminishFactors)-1)]
		app.DiminishedBy = factor
		scaled *= factor
	}

	applied := int(math.Round(scaled))
	if rawDelta > 0 && applied < 1 {
		applied = 1 // piso: un positivo nunca se diluye a cero
	}
	applied = clampAbs(applied, maxSingleDelta)

	// Las disculpas reparan, pero con techo: nunca sacan el score por
	// encima de -50 mientras la relación siga dañada.
	if intent == domain.IntentApology && st.EmotionScore <= apologyCeiling && applied > 0 {
		if st.EmotionScore+applied > apologyCeiling {
			applied = apologyCeiling - st.EmotionScore
		}
	}

	app.AppliedDelta = applied
	app.ScoreAfter = clampScore(st.EmotionScore + applied)
	app.StateAfter = domain.EmotionStateForScore(app.ScoreAfter)

	if commit {
		st.EmotionScore = app.ScoreAfter
		st.EmotionState = app.StateAfter
		st.EmotionUpdatedAt = now
		b.push(rawDelta, intent, now)
		b.pushApplied(applied, now)
	}
	return app
}

// Confirm registra en el buffer una aplicación calculada con Preview y ya
// persistida. Exactamente una vez por turno: los reintentos por conflicto de
// versión recalculan el Preview pero no deben duplicar la entrada.
func (e *EmotionEngine) Confirm(userID, characterID string, app DeltaApplication, now time.Time) {
	b := e.buffer(userID, characterID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.push(app.RawDelta, app.Trigger, now)
	b.pushApplied(app.AppliedDelta, now)
}

// ApologyRecovery maneja la disculpa dentro del lockout (cold_war/blocked):
// recupera como máximo +5, con techo duro en -50, y marca que hace falta un
// regalo. No toca el buffer: en lockout la ventana no se actualiza.
func (e *EmotionEngine) ApologyRecovery(st *domain.UserState, now time.Time) DeltaApplication {
	app := DeltaApplication{
		RawDelta:     apologyRecovery,
		ScoreBefore:  st.EmotionScore,
		StateBefore:  st.EmotionState,
		BufferScale:  1,
		RequiresGift: true,
		Trigger:      domain.IntentApology,
	}

	applied := apologyRecovery
	if st.EmotionScore+applied > apologyCeiling {
		applied = apologyCeiling - st.EmotionScore
	}
	if applied < 0 {
		applied = 0
	}

	app.AppliedDelta = applied
	app.ScoreAfter = clampScore(st.EmotionScore + applied)
	app.StateAfter = domain.EmotionStateForScore(app.ScoreAfter)

	st.EmotionScore = app.ScoreAfter
	st.EmotionState = app.StateAfter
	st.EmotionUpdatedAt = now
	return app
}

// GiftRecovery aplica el efecto emocional de un regalo. Un regalo que limpia
// el cold_war garantiza score > -75; uno de lujo fuerza el delta positivo
// máximo. Corre dentro de la transacción del regalo.
func (e *EmotionEngine) GiftRecovery(st *domain.UserState, bonus int, clearsColdWar, luxury bool, now time.Time) DeltaApplication {
	if luxury {
		bonus = maxSingleDelta
	}
	app := DeltaApplication{
		RawDelta:    bonus,
		ScoreBefore: st.EmotionScore,
		StateBefore: st.EmotionState,
		BufferScale: 1,
		Trigger:     "gift",
	}

	after := clampScore(st.EmotionScore + bonus)
	if clearsColdWar && after <= decayFloorColdWar {
		after = decayFloorColdWar + 5
	}

	app.AppliedDelta = after - st.EmotionScore
	app.ScoreAfter = after
	app.StateAfter = domain.EmotionStateForScore(after)

	st.EmotionScore = after
	st.EmotionState = app.StateAfter
	st.EmotionUpdatedAt = now
	return app
}

// Decay acerca el score a un punto de reposo cuando pasó más de una hora sin
// interacción: 3/h para negativos (sin cruzar 0 ni salir de la zona cold_war)
// y -1/h para scores arriba de 50. Devuelve el ajuste aplicado.
func (e *EmotionEngine) Decay(st *domain.UserState, now time.Time) int {
	if st.EmotionUpdatedAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(st.EmotionUpdatedAt)
	if elapsed <= decayAfter {
		return 0
	}
	hours := elapsed.Hours()

	before := st.EmotionScore
	switch {
	case st.EmotionScore < 0:
		ceiling := 0
		if st.EmotionScore < decayFloorColdWar {
			ceiling = decayFloorColdWar
		}
		decayed := st.EmotionScore + int(negativeDecayRate*hours)
		if decayed > ceiling {
			decayed = ceiling
		}
		st.EmotionScore = decayed
	case st.EmotionScore > 50:
		decayed := st.EmotionScore - int(positiveDecayRate*hours)
		if decayed < 50 {
			decayed = 50
		}
		st.EmotionScore = decayed
	default:
		return 0
	}

	if st.EmotionScore != before {
		st.EmotionState = domain.EmotionStateForScore(st.EmotionScore)
		st.EmotionUpdatedAt = now
	}
	return st.EmotionScore - before
}

// SeedFromHistory reconstruye el buffer del par desde el historial persistido.
// Solo actúa si el buffer está vacío (proceso recién levantado).
func (e *EmotionEngine) SeedFromHistory(userID, characterID string, history []domain.EmotionHistoryEntry, now time.Time) {
	b := e.buffer(userID, characterID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) > 0 {
		return
	}

	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if now.Sub(h.CreatedAt) > positiveWindowSpan {
			continue
		}
		b.push(h.Delta, h.Trigger, h.CreatedAt)
		b.pushApplied(h.Delta, h.CreatedAt)
	}
}

/*
========================
 Ventanas del buffer
========================
*/

func (b *pairBuffer) push(delta int, intent string, at time.Time) {
	b.entries = append(b.entries, bufferEntry{delta: delta, intent: intent, at: at})
	if len(b.entries) > emotionBufferSize {
		b.entries = b.entries[len(b.entries)-emotionBufferSize:]
	}
	if delta < 0 {
		b.lastNegativeAt = at
	}
}

func (b *pairBuffer) pushApplied(delta int, at time.Time) {
	b.applied = append(b.applied, appliedEntry{delta: delta, at: at})
	cutoff := at.Add(-diminishWindowSpan)
	trimmed := b.applied[:0]
	for _, a := range b.applied {
		if a.at.After(cutoff) {
			trimmed = append(trimmed, a)
		}
	}
	b.applied = trimmed
}

// negativeSum suma los deltas negativos de los últimos 5 minutos.
func (b *pairBuffer) negativeSum(now time.Time) int {
	sum := 0
	cutoff := now.Add(-negativeWindowSpan)
	for _, e := range b.entries {
		if e.delta < 0 && e.at.After(cutoff) {
			sum += e.delta
		}
	}
	return sum
}

// positiveCount cuenta los deltas positivos de los últimos 10 minutos.
func (b *pairBuffer) positiveCount(now time.Time) int {
	n := 0
	cutoff := now.Add(-positiveWindowSpan)
	for _, e := range b.entries {
		if e.delta > 0 && e.at.After(cutoff) {
			n++
		}
	}
	return n
}

// consecutivePositives cuenta la racha de positivos al final de la ventana
// de 5 minutos, de más reciente hacia atrás.
func (b *pairBuffer) consecutivePositives(now time.Time) int {
	n := 0
	cutoff := now.Add(-diminishWindowSpan)
	for i := len(b.applied) - 1; i >= 0; i-- {
		a := b.applied[i]
		if !a.at.After(cutoff) || a.delta <= 0 {
			break
		}
		n++
	}
	return n
}

// negativeAccumScale gradúa la dureza según lo acumulado: golpes aislados se
// amortiguan, el maltrato sostenido se endurece.
func negativeAccumScale(sum int) float64 {
	switch {
	case sum > -30:
		return 0.6
	case sum >= -60:
		return 1.0
	default:
		return 1.2
	}
}

/*
========================
 Helpers numéricos
========================
*/

func clampScore(score int) int {
	if score > 100 {
		return 100
	}
	if score < -100 {
		return -100
	}
	return score
}

func clampAbs(v, limit int) int {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
