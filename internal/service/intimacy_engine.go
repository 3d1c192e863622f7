package service

import (
	"math"
	"sort"
	"time"

	"companion-llm/internal/domain"
)

/*
========================
 Tabla de XP
========================
*/

const (
	maxIntimacyLevel = 50
	dailyXPCap       = 500
	dailyXPWindow    = 24 * time.Hour
)

// xpThresholds[n] es el XP acumulado necesario para el nivel n. Los niveles
// 0-9 usan la tabla fija; del 10 en adelante cada nivel suma 100 · 1.15^n.
var xpThresholds = buildXPThresholds()

func buildXPThresholds() []float64 {
	t := make([]float64, maxIntimacyLevel+1)
	fixed := []float64{0, 10, 20, 50, 100, 180, 280, 400, 550, 750}
	copy(t, fixed)
	for level := len(fixed); level <= maxIntimacyLevel; level++ {
		t[level] = t[level-1] + 100*math.Pow(1.15, float64(level))
	}
	return t
}

// LevelForXP invierte la tabla por bisección: el mayor nivel cuyo umbral
// acumulado no supera el XP.
func LevelForXP(xp float64) int {
	if xp < 0 {
		return 0
	}
	// sort.Search devuelve el primer nivel con umbral > xp.
	n := sort.Search(len(xpThresholds), func(i int) bool { return xpThresholds[i] > xp })
	if n == 0 {
		return 0
	}
	return n - 1
}

// XPForLevel expone el umbral acumulado de un nivel (útil para la UI).
func XPForLevel(level int) float64 {
	if level < 0 {
		return 0
	}
	if level > maxIntimacyLevel {
		level = maxIntimacyLevel
	}
	return xpThresholds[level]
}

/*
========================
 Acciones y recompensas
========================
*/

const (
	ActionMessage        = "message"
	ActionContinuousChat = "continuous_chat"
	ActionCheckin        = "checkin"
	ActionEmotional      = "emotional"
	ActionVoice          = "voice"
	ActionShare          = "share"
)

// actionRule define recompensa y límites por acción. DailyLimit 0 = sin tope.
type actionRule struct {
	XP         float64
	DailyLimit int
	Cooldown   time.Duration
}

var actionRules = map[string]actionRule{
	ActionMessage:        {XP: 2},
	ActionContinuousChat: {XP: 5},
	ActionCheckin:        {XP: 20, DailyLimit: 1, Cooldown: 24 * time.Hour},
	ActionEmotional:      {XP: 10, DailyLimit: 5},
	ActionVoice:          {XP: 15, DailyLimit: 3, Cooldown: 5 * time.Minute},
	ActionShare:          {XP: 50, DailyLimit: 1, Cooldown: 7 * 24 * time.Hour},
}

// levelFeatures mapea nivel → feature desbloqueada al alcanzarlo.
var levelFeatures = map[int]string{
	2:  "custom_nickname",
	5:  "voice_notes",
	8:  "daily_checkin_bonus",
	11: "date_invitations",
	15: "jealousy_scenes",
	21: "shared_diary",
	26: "late_night_mode",
	31: "anniversary_reminders",
	41: "soulmate_mode",
}

/*
========================
 Resultado de premiación
========================
*/

// Motivos de premiación nula o recortada.
const (
	ReasonDailyCap   = "daily_cap"
	ReasonDailyLimit = "daily_limit"
	ReasonCooldown   = "cooldown"
)

type AwardResult struct {
	Action         string   `json:"action"`
	Awarded        float64  `json:"awarded"`
	Reason         string   `json:"reason,omitempty"`
	XPBefore       float64  `json:"xp_before"`
	XPAfter        float64  `json:"xp_after"`
	LevelBefore    int      `json:"level_before"`
	LevelAfter     int      `json:"level_after"`
	StageBefore    string   `json:"stage_before"`
	StageAfter     string   `json:"stage_after"`
	LevelUp        bool     `json:"level_up"`
	NewFeatures    []string `json:"newly_unlocked_features,omitempty"`
	DailyRemaining float64  `json:"daily_remaining"`

	CooldownRemaining time.Duration `json:"-"`
}

/*
========================
 Motor de intimidad
========================
*/

// IntimacyEngine concentra la matemática de XP, niveles, etapas y rachas.
// Es puro: recibe el estado y el historial reciente, nunca toca storage.
type IntimacyEngine struct{}

// DefaultIntimacyEngine permite uso directo sin instanciar.
var DefaultIntimacyEngine = IntimacyEngine{}

// Award intenta premiar la acción sobre el estado. recent son las acciones
// del par en las últimas 24 horas; el caller decide persistir el estado y
// loguear la acción cuando Awarded > 0.
func (IntimacyEngine) Award(st *domain.UserState, action string, recent []domain.IntimacyActionLog, now time.Time) AwardResult {
	res := AwardResult{
		Action:      action,
		XPBefore:    st.IntimacyXP,
		XPAfter:     st.IntimacyXP,
		LevelBefore: st.IntimacyLevel,
		LevelAfter:  st.IntimacyLevel,
		StageBefore: st.IntimacyStage,
		StageAfter:  st.IntimacyStage,
	}

	rule, ok := actionRules[action]
	if !ok {
		res.Reason = "unknown_action"
		res.DailyRemaining = dailyCapRemaining(st, now)
		return res
	}

	// Ventana diaria rodante: la primera acción después del lapso resetea.
	if now.Sub(st.LastDailyReset) >= dailyXPWindow {
		st.DailyXPEarned = 0
		st.LastDailyReset = now
	}

	sameAction := 0
	var lastAt time.Time
	for _, a := range recent {
		if a.Action != action {
			continue
		}
		sameAction++
		if a.CreatedAt.After(lastAt) {
			lastAt = a.CreatedAt
		}
	}

	if rule.DailyLimit > 0 && sameAction >= rule.DailyLimit {
		res.Reason = ReasonDailyLimit
		res.DailyRemaining = dailyCapRemaining(st, now)
		return res
	}
	if rule.Cooldown > 0 && !lastAt.IsZero() {
		if remaining := rule.Cooldown - now.Sub(lastAt); remaining > 0 {
			res.Reason = ReasonCooldown
			res.CooldownRemaining = remaining
			res.DailyRemaining = dailyCapRemaining(st, now)
			return res
		}
	}

	capRemaining := dailyCapRemaining(st, now)
	awarded := math.Min(rule.XP, capRemaining)
	if awarded <= 0 {
		res.Reason = ReasonDailyCap
		res.DailyRemaining = 0
		return res
	}

	st.IntimacyXP += awarded
	st.DailyXPEarned += awarded
	st.IntimacyLevel = LevelForXP(st.IntimacyXP)
	st.IntimacyStage = domain.StageForLevel(st.IntimacyLevel)
	updateStreak(st, now)

	res.Awarded = awarded
	res.XPAfter = st.IntimacyXP
	res.LevelAfter = st.IntimacyLevel
	res.StageAfter = st.IntimacyStage
	res.LevelUp = res.LevelAfter > res.LevelBefore
	res.NewFeatures = featuresBetween(res.LevelBefore, res.LevelAfter)
	res.DailyRemaining = dailyCapRemaining(st, now)
	return res
}

func dailyCapRemaining(st *domain.UserState, now time.Time) float64 {
	if now.Sub(st.LastDailyReset) >= dailyXPWindow {
		return dailyXPCap
	}
	remaining := dailyXPCap - st.DailyXPEarned
	if remaining < 0 {
		return 0
	}
	return remaining
}

// updateStreak aplica la lógica de fechas consecutivas en UTC: mismo día
// mantiene, día siguiente suma, hueco mayor reinicia en 1.
func updateStreak(st *domain.UserState, now time.Time) {
	today := now.UTC().Truncate(24 * time.Hour)
	if st.LastInteractionDate == nil {
		st.StreakDays = 1
		st.LastInteractionDate = &today
		return
	}

	last := st.LastInteractionDate.UTC().Truncate(24 * time.Hour)
	switch int(today.Sub(last).Hours() / 24) {
	case 0:
		// mismo día, nada que hacer
	case 1:
		st.StreakDays++
		st.LastInteractionDate = &today
	default:
		st.StreakDays = 1
		st.LastInteractionDate = &today
	}
}

// featuresBetween devuelve las features cuyo nivel cae en (before, after].
func featuresBetween(before, after int) []string {
	if after <= before {
		return nil
	}
	var out []string
	for level := before + 1; level <= after; level++ {
		if f, ok := levelFeatures[level]; ok {
			out = append(out, f)
		}
	}
	return out
}

/*
========================
 Hitos de relación
========================
*/

// TurnSignals son las señales que el pipeline observó en el turno y que
// pueden disparar un hito.
type TurnSignals struct {
	GiftSent   bool
	Confession bool
	Kiss       bool
	Date       bool
	NSFW       bool
}

// eventOrder fija la prioridad cuando varios hitos califican en un mismo
// turno: se dispara a lo sumo uno, el primero de esta lista.
var eventOrder = []struct {
	event string
	match func(TurnSignals) bool
}{
	{domain.EventFirstGift, func(s TurnSignals) bool { return s.GiftSent }},
	{domain.EventFirstConfession, func(s TurnSignals) bool { return s.Confession }},
	{domain.EventFirstKiss, func(s TurnSignals) bool { return s.Kiss }},
	{domain.EventFirstDate, func(s TurnSignals) bool { return s.Date }},
	{domain.EventFirstNSFW, func(s TurnSignals) bool { return s.NSFW }},
}

// TriggerEvent evalúa los hitos en orden declarado y marca a lo sumo uno
// nuevo en el estado. El set de eventos solo crece.
func (IntimacyEngine) TriggerEvent(st *domain.UserState, signals TurnSignals) (string, bool) {
	for _, candidate := range eventOrder {
		if !candidate.match(signals) || st.HasEvent(candidate.event) {
			continue
		}
		st.Events = append(st.Events, candidate.event)
		return candidate.event, true
	}
	return "", false
}
