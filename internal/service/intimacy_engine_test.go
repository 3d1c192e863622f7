package service

import (
	"strings"
	"testing"
	"time"

	"companion-llm/internal/domain"
)

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		xp   float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{9, 0},
		{10, 1},
		{19, 1},
		{20, 2},
		{49, 2},
		{50, 3},
		{100, 4},
		{180, 5},
		{280, 6},
		{400, 7},
		{550, 8},
		{750, 9},
		{1154, 9},  // justo debajo del umbral geometrico del nivel 10
		{1155, 10}, // 750 + 100*1.15^10 ~= 1154.56
		{1e9, 50},
	}

	for _, tt := range tests {
		if got := LevelForXP(tt.xp); got != tt.want {
			t.Errorf("LevelForXP(%.0f) = %d, se esperaba %d", tt.xp, got, tt.want)
		}
	}
}

func TestXPForLevel(t *testing.T) {
	if got := XPForLevel(1); got != 10 {
		t.Fatalf("nivel 1 = %.1f, se esperaban 10", got)
	}
	if got := XPForLevel(9); got != 750 {
		t.Fatalf("nivel 9 = %.1f, se esperaban 750", got)
	}
	if got := XPForLevel(-1); got != 0 {
		t.Fatalf("nivel -1 = %.1f, se esperaba 0", got)
	}
	if XPForLevel(60) != XPForLevel(maxIntimacyLevel) {
		t.Fatal("por encima del maximo debe devolver el umbral del nivel 50")
	}
}

func TestStageForLevel(t *testing.T) {
	tests := []struct {
		level int
		want  string
	}{
		{0, domain.StageStrangers},
		{3, domain.StageStrangers},
		{4, domain.StageAcquaintances},
		{10, domain.StageAcquaintances},
		{11, domain.StageCloseFriends},
		{25, domain.StageCloseFriends},
		{26, domain.StageAmbiguous},
		{40, domain.StageAmbiguous},
		{41, domain.StageSoulmates},
		{50, domain.StageSoulmates},
	}
	for _, tt := range tests {
		if got := domain.StageForLevel(tt.level); got != tt.want {
			t.Errorf("nivel %d = %s, se esperaba %s", tt.level, got, tt.want)
		}
	}
}

func TestAward_MessageBasic(t *testing.T) {
	now := time.Now().UTC()
	st := domain.UserState{LastDailyReset: now}

	res := DefaultIntimacyEngine.Award(&st, ActionMessage, nil, now)
	if res.Awarded != 2 {
		t.Fatalf("awarded %.1f, se esperaban 2", res.Awarded)
	}
	if st.IntimacyXP != 2 || st.DailyXPEarned != 2 {
		t.Fatalf("xp %.1f / diario %.1f, se esperaban 2 y 2", st.IntimacyXP, st.DailyXPEarned)
	}
	if res.DailyRemaining != 498 {
		t.Fatalf("restante diario %.1f, se esperaban 498", res.DailyRemaining)
	}
	if st.StreakDays != 1 || st.LastInteractionDate == nil {
		t.Fatalf("racha %d, se esperaba 1 con fecha registrada", st.StreakDays)
	}
}

func TestAward_UnknownAction(t *testing.T) {
	st := domain.UserState{LastDailyReset: time.Now().UTC()}
	res := DefaultIntimacyEngine.Award(&st, "selfie", nil, time.Now().UTC())
	if res.Awarded != 0 || res.Reason != "unknown_action" {
		t.Fatalf("respuesta %+v, se esperaba awarded=0 reason=unknown_action", res)
	}
}

func TestAward_DailyCap(t *testing.T) {
	now := time.Now().UTC()

	t.Run("premia parcial contra el tope", func(t *testing.T) {
		st := domain.UserState{DailyXPEarned: 499, LastDailyReset: now}
		res := DefaultIntimacyEngine.Award(&st, ActionMessage, nil, now)
		if res.Awarded != 1 {
			t.Fatalf("awarded %.1f, se esperaba 1 (recorte parcial)", res.Awarded)
		}
		if res.DailyRemaining != 0 {
			t.Fatalf("restante %.1f, se esperaba 0", res.DailyRemaining)
		}
	})

	t.Run("con el tope lleno no premia", func(t *testing.T) {
		st := domain.UserState{DailyXPEarned: dailyXPCap, LastDailyReset: now}
		res := DefaultIntimacyEngine.Award(&st, ActionMessage, nil, now)
		if res.Awarded != 0 || res.Reason != ReasonDailyCap {
			t.Fatalf("respuesta %+v, se esperaba reason=daily_cap", res)
		}
	})

	t.Run("la ventana rodante resetea a las 24h", func(t *testing.T) {
		st := domain.UserState{DailyXPEarned: dailyXPCap, LastDailyReset: now.Add(-25 * time.Hour)}
		res := DefaultIntimacyEngine.Award(&st, ActionMessage, nil, now)
		if res.Awarded != 2 {
			t.Fatalf("awarded %.1f, se esperaban 2 tras el reset", res.Awarded)
		}
		if st.DailyXPEarned != 2 || !st.LastDailyReset.Equal(now) {
			t.Fatalf("el contador diario no se reseteo: %.1f", st.DailyXPEarned)
		}
	})
}

func TestAward_DailyLimitPerAction(t *testing.T) {
	now := time.Now().UTC()
	st := domain.UserState{LastDailyReset: now}
	recent := []domain.IntimacyActionLog{
		{Action: ActionCheckin, CreatedAt: now.Add(-2 * time.Hour)},
	}

	res := DefaultIntimacyEngine.Award(&st, ActionCheckin, recent, now)
	if res.Awarded != 0 || res.Reason != ReasonDailyLimit {
		t.Fatalf("respuesta %+v, se esperaba reason=daily_limit", res)
	}
}

func TestAward_Cooldown(t *testing.T) {
	now := time.Now().UTC()

	t.Run("dentro del cooldown rechaza", func(t *testing.T) {
		st := domain.UserState{LastDailyReset: now}
		recent := []domain.IntimacyActionLog{
			{Action: ActionVoice, CreatedAt: now.Add(-2 * time.Minute)},
		}
		res := DefaultIntimacyEngine.Award(&st, ActionVoice, recent, now)
		if res.Reason != ReasonCooldown {
			t.Fatalf("reason %q, se esperaba cooldown", res.Reason)
		}
		if res.CooldownRemaining != 3*time.Minute {
			t.Fatalf("restante %s, se esperaban 3m", res.CooldownRemaining)
		}
	})

	t.Run("pasado el cooldown premia", func(t *testing.T) {
		st := domain.UserState{LastDailyReset: now}
		recent := []domain.IntimacyActionLog{
			{Action: ActionVoice, CreatedAt: now.Add(-6 * time.Minute)},
		}
		res := DefaultIntimacyEngine.Award(&st, ActionVoice, recent, now)
		if res.Awarded != 15 {
			t.Fatalf("awarded %.1f, se esperaban 15", res.Awarded)
		}
	})
}

func TestAward_LevelUpUnlocksFeatures(t *testing.T) {
	now := time.Now().UTC()

	st := domain.UserState{
		IntimacyXP:     18,
		IntimacyLevel:  1,
		IntimacyStage:  domain.StageStrangers,
		LastDailyReset: now,
	}
	res := DefaultIntimacyEngine.Award(&st, ActionMessage, nil, now)
	if !res.LevelUp || res.LevelAfter != 2 {
		t.Fatalf("respuesta %+v, se esperaba subir al nivel 2", res)
	}
	if strings.Join(res.NewFeatures, ",") != "custom_nickname" {
		t.Fatalf("features %v, se esperaba [custom_nickname]", res.NewFeatures)
	}

	// El cruce de nivel 3 a 4 ademas cambia la etapa.
	st2 := domain.UserState{
		IntimacyXP:     98,
		IntimacyLevel:  3,
		IntimacyStage:  domain.StageStrangers,
		LastDailyReset: now,
	}
	res2 := DefaultIntimacyEngine.Award(&st2, ActionMessage, nil, now)
	if res2.LevelAfter != 4 || res2.StageAfter != domain.StageAcquaintances {
		t.Fatalf("respuesta %+v, se esperaba nivel 4 / acquaintances", res2)
	}
}

func TestAward_StreakTransitions(t *testing.T) {
	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	yesterday := today.Add(-24 * time.Hour)
	threeDaysAgo := today.Add(-72 * time.Hour)

	tests := []struct {
		name string
		last *time.Time
		days int
		want int
	}{
		{"primera interaccion arranca en 1", nil, 0, 1},
		{"mismo dia mantiene", &today, 3, 3},
		{"dia consecutivo suma", &yesterday, 3, 4},
		{"hueco reinicia en 1", &threeDaysAgo, 9, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := domain.UserState{
				StreakDays:          tt.days,
				LastInteractionDate: tt.last,
				LastDailyReset:      now,
			}
			DefaultIntimacyEngine.Award(&st, ActionMessage, nil, now)
			if st.StreakDays != tt.want {
				t.Fatalf("racha %d, se esperaba %d", st.StreakDays, tt.want)
			}
		})
	}
}

func TestFeaturesBetween(t *testing.T) {
	if got := featuresBetween(0, 5); strings.Join(got, ",") != "custom_nickname,voice_notes" {
		t.Fatalf("features (0,5] = %v", got)
	}
	if got := featuresBetween(8, 15); strings.Join(got, ",") != "date_invitations,jealousy_scenes" {
		t.Fatalf("features (8,15] = %v", got)
	}
	if got := featuresBetween(2, 2); got != nil {
		t.Fatalf("sin subida debe ser nil, fue %v", got)
	}
}

func TestTriggerEvent_PriorityAndGrowOnly(t *testing.T) {
	st := domain.UserState{}
	signals := TurnSignals{GiftSent: true, Confession: true}

	// Primer turno: gana el de mayor prioridad.
	event, ok := DefaultIntimacyEngine.TriggerEvent(&st, signals)
	if !ok || event != domain.EventFirstGift {
		t.Fatalf("evento %q, se esperaba first_gift", event)
	}

	// Mismas senales: el regalo ya existe, cae al siguiente.
	event, ok = DefaultIntimacyEngine.TriggerEvent(&st, signals)
	if !ok || event != domain.EventFirstConfession {
		t.Fatalf("evento %q, se esperaba first_confession", event)
	}

	// Nada nuevo que disparar.
	if event, ok = DefaultIntimacyEngine.TriggerEvent(&st, signals); ok {
		t.Fatalf("no debia disparar, dio %q", event)
	}
	if len(st.Events) != 2 {
		t.Fatalf("eventos %v, se esperaban exactamente 2", st.Events)
	}
}

func TestTriggerEvent_SingleSignal(t *testing.T) {
	st := domain.UserState{}
	event, ok := DefaultIntimacyEngine.TriggerEvent(&st, TurnSignals{NSFW: true})
	if !ok || event != domain.EventFirstNSFW {
		t.Fatalf("evento %q, se esperaba first_nsfw", event)
	}
	if !st.HasEvent(domain.EventFirstNSFW) {
		t.Fatal("el evento no quedo en el estado")
	}
}
