package service

import (
	"regexp"
	"strings"
	"unicode"

	"companion-llm/internal/domain"
)

/*
========================
 Tiers de contenido
========================
*/

// tierRank ordena los tiers progresivos para poder compararlos.
var tierRank = map[string]int{
	domain.ContentTierPure:       0,
	domain.ContentTierFlirty:     1,
	domain.ContentTierIntimate:   2,
	domain.ContentTierRomantic:   3,
	domain.ContentTierPassionate: 4,
}

var tierByRank = []string{
	domain.ContentTierPure,
	domain.ContentTierFlirty,
	domain.ContentTierIntimate,
	domain.ContentTierRomantic,
	domain.ContentTierPassionate,
}

// TierInputs son las cuatro señales que determinan el tier permitido.
type TierInputs struct {
	IntimacyLevel int
	NSFWFeature   bool // nsfw_enabled según tier efectivo de suscripción
	NSFWConsent   bool // consentimiento explícito por par
	SpicyMode     bool // opt-in del request
}

// AllowedTier computa el tier de contenido permitido para el turno. El nivel
// de intimidad fija la base; el tier passionate exige además feature de
// suscripción, consentimiento del par y spicy_mode en el request.
func AllowedTier(in TierInputs) string {
	var base string
	switch {
	case in.IntimacyLevel <= 10:
		base = domain.ContentTierPure
	case in.IntimacyLevel <= 25:
		base = domain.ContentTierFlirty
	case in.IntimacyLevel <= 33:
		base = domain.ContentTierIntimate
	case in.IntimacyLevel <= 40:
		base = domain.ContentTierRomantic
	default:
		base = domain.ContentTierPassionate
	}

	if base == domain.ContentTierPassionate {
		if !in.NSFWFeature || !in.NSFWConsent || !in.SpicyMode {
			base = domain.ContentTierRomantic
		}
	}
	return base
}

// RequiredTier devuelve el tier mínimo que una intención necesita para
// responderse sin bajar el tono.
func RequiredTier(intent string) string {
	switch intent {
	case domain.IntentRequestNSFW:
		return domain.ContentTierPassionate
	case domain.IntentLoveConfession:
		return domain.ContentTierIntimate
	case domain.IntentInvitation:
		return domain.ContentTierFlirty
	default:
		return domain.ContentTierPure
	}
}

// TierAllows reporta si allowed cubre required.
func TierAllows(allowed, required string) bool {
	return tierRank[allowed] >= tierRank[required]
}

/*
========================
 Vocabulario por banda
========================
*/

// bannedAlways se elimina siempre, sin importar el tier. Un match marca la
// respuesta como critical.
var bannedAlways = []string{
	"incesto", "incest", "bestiality", "zoofilia",
	"menor de edad", "underage",
}

// Cada banda habilita vocabulario a partir de su tier. El tier restringe la
// unión de todas las bandas superiores.
var flirtyBand = []string{
	"sexy", "coqueta", "coqueto", "guiño", "wink",
}

var intimateBand = []string{
	"beso", "besarte", "kiss you", "kissing", "cuddle", "acurrucar",
}

var romanticBand = []string{
	"caricia", "caricias", "caress", "te deseo", "desire you", "piel",
}

var passionateBand = []string{
	"desnuda", "desnudo", "undress", "naked", "hacer el amor", "make love",
	"gemido", "moan",
}

// restrictedFor arma la lista de tokens vedados para un tier dado.
func restrictedFor(tier string) []string {
	rank := tierRank[tier]
	var out []string
	if rank < 1 {
		out = append(out, flirtyBand...)
	}
	if rank < 2 {
		out = append(out, intimateBand...)
	}
	if rank < 3 {
		out = append(out, romanticBand...)
	}
	if rank < 4 {
		out = append(out, passionateBand...)
	}
	return out
}

// escalationPatterns detecta escaladas narrativas que el vocabulario suelto
// no atrapa. Se suavizan, no se bloquean.
var escalationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(se (quita|saca)|takes? off|unbutton\w*|desabroch\w*)\s+\w*\s*(la |el |su |tu |his |her |my |your )?(ropa|camisa|vestido|blusa|shirt|dress|clothes)`),
	regexp.MustCompile(`(?i)(jadea\w*|gimiendo|moan(s|ing)?|breathing heavily)`),
	regexp.MustCompile(`(?i)(entre (las )?sabanas|under the sheets|en la cama juntos|in bed together)`),
}

var reEllipsisRuns = regexp.MustCompile(`(\.\.\.\s*){2,}`)

/*
========================
 Filtro de salida
========================
*/

// Severidad del filtrado sobre la respuesta generada.
const (
	FilterSeverityNone     = "none"
	FilterSeveritySoftened = "softened"
	FilterSeverityCritical = "critical"
)

type FilterResult struct {
	Text     string   `json:"text"`
	Severity string   `json:"severity"`
	Matches  []string `json:"matches,omitempty"`
}

// ContentFilter aplica las reglas de contenido sobre la salida del modelo:
// vocabulario prohibido universal, vocabulario restringido por tier y
// patrones de escalada.
type ContentFilter struct{}

// DefaultContentFilter permite uso directo sin instanciar.
var DefaultContentFilter = ContentFilter{}

// FilterReply limpia la respuesta del modelo según el tier permitido.
func (ContentFilter) FilterReply(text, allowedTier string) FilterResult {
	res := FilterResult{Text: text, Severity: FilterSeverityNone}

	lower := normalize(text)
	for _, banned := range bannedAlways {
		if strings.Contains(lower, banned) {
			res.Text = replaceFold(res.Text, banned, "[filtered]")
			lower = normalize(res.Text)
			res.Severity = FilterSeverityCritical
			res.Matches = append(res.Matches, banned)
		}
	}

	for _, restricted := range restrictedFor(allowedTier) {
		if strings.Contains(lower, restricted) {
			res.Text = replaceFold(res.Text, restricted, "...")
			lower = normalize(res.Text)
			if res.Severity == FilterSeverityNone {
				res.Severity = FilterSeveritySoftened
			}
			res.Matches = append(res.Matches, restricted)
		}
	}

	for _, pattern := range escalationPatterns {
		if pattern.MatchString(res.Text) {
			res.Text = pattern.ReplaceAllString(res.Text, "...")
			if res.Severity == FilterSeverityNone {
				res.Severity = FilterSeveritySoftened
			}
			res.Matches = append(res.Matches, pattern.String())
		}
	}

	res.Text = strings.TrimSpace(reEllipsisRuns.ReplaceAllString(res.Text, "... "))
	return res
}

// WarnUserInput es el pre-filtro advisory sobre el texto del usuario: emite
// advertencias en tiers bajos pero nunca bloquea.
func (ContentFilter) WarnUserInput(text, allowedTier string) []string {
	lower := normalize(text)
	var warnings []string
	for _, restricted := range restrictedFor(allowedTier) {
		if strings.Contains(lower, restricted) {
			warnings = append(warnings, "content above current tier: "+restricted)
		}
	}
	return warnings
}

// replaceFold reemplaza todas las apariciones de needle sin distinguir
// mayúsculas ni acentos, preservando el resto del texto original.
func replaceFold(text, needle, replacement string) string {
	folded := []rune(normalize(needle))
	if len(folded) == 0 {
		return text
	}

	runes := []rune(text)
	var b strings.Builder
	i := 0
	for i < len(runes) {
		if n := matchFoldAt(runes, i, folded); n > 0 {
			b.WriteString(replacement)
			i += n
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

// matchFoldAt devuelve cuántas runas del original cubren needle (ya
// normalizada) empezando en i, o 0 si no hay match.
func matchFoldAt(runes []rune, i int, needle []rune) int {
	j := 0
	k := i
	for j < len(needle) {
		if k >= len(runes) {
			return 0
		}
		r := runes[k]
		if unicode.Is(unicode.Mn, r) {
			k++
			continue
		}
		if foldAccent(unicode.ToLower(r)) != needle[j] {
			return 0
		}
		j++
		k++
	}
	return k - i
}
