package service

import (
	"strings"
	"unicode"

	"companion-llm/internal/domain"
)

/*
========================
 Normalización de texto
========================
*/

// normalize baja a minúsculas y elimina diacríticos (acentos).
// Ej: "café" -> "cafe", "corazón" -> "corazon"
func normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(foldAccent(r))
	}
	return b.String()
}

func foldAccent(r rune) rune {
	switch r {
	case 'á', 'à', 'ä', 'â':
		return 'a'
	case 'é', 'è', 'ë', 'ê':
		return 'e'
	case 'í', 'ì', 'ï', 'î':
		return 'i'
	case 'ó', 'ò', 'ö', 'ô':
		return 'o'
	case 'ú', 'ù', 'ü', 'û':
		return 'u'
	case 'ñ':
		return 'n'
	}
	return r
}

func containsAny(s string, list []string) bool {
	for _, x := range list {
		if strings.Contains(s, x) {
			return true
		}
	}
	return false
}

func firstMatch(s string, list []string) string {
	for _, x := range list {
		if strings.Contains(s, x) {
			return x
		}
	}
	return ""
}

func countMatches(s string, list []string) int {
	n := 0
	for _, x := range list {
		n += strings.Count(s, x)
	}
	return n
}

/*
========================
 Tablas de reglas
========================
*/

// blockKeywords corta la request sin llamar al LLM. Lista corta a propósito:
// sólo violaciones duras, el resto baja a REVIEW o al filtro de salida.
var blockKeywords = []string{
	"menor de edad", "underage", "nina de", "nino de",
	"incesto", "incest",
	"bestialismo", "bestiality", "zoofilia",
	"violacion glorific", "rape fantasy",
}

// reviewKeywords marca el mensaje para auditoría sin bloquearlo.
var reviewKeywords = []string{
	"suicid", "matarme", "kill myself", "autolesion", "self harm", "self-harm",
	"cortarme", "no quiero vivir", "end my life",
}

var nsfwKeywords = []string{
	"sexo", "sex", "desnud", "naked", "nude", "cama juntos",
	"hot pics", "nsfw", "lenceria", "lingerie", "sexting",
	"hacer el amor", "make love to", "sleep with you",
}

// Tablas de intención, evaluadas en orden de prioridad.
var apologyKeywords = []string{
	"perdon", "perdoname", "lo siento", "lo lamento", "fue mi culpa", "disculpa",
	"i'm sorry", "im sorry", "i am sorry", "my fault", "forgive me", "i apologize",
}

var confessionKeywords = []string{
	"te amo", "te quiero mucho", "estoy enamorado", "estoy enamorada",
	"i love you", "in love with you", "be my girlfriend", "be my boyfriend",
	"quieres ser mi novia", "quieres ser mi novio",
}

var complimentKeywords = []string{
	"eres hermosa", "eres hermoso", "eres preciosa", "eres linda", "eres lindo",
	"me encantas", "eres increible", "eres especial", "que bonita", "que guapa",
	"you're beautiful", "youre beautiful", "you are beautiful", "so pretty",
	"you're amazing", "you are amazing", "so cute", "gorgeous",
}

var insultKeywords = []string{
	"idiota", "estupida", "estupido", "imbecil", "inutil", "te odio", "callate",
	"eres basura", "das asco", "stupid", "idiot", "i hate you", "shut up",
	"worthless", "pathetic", "disgusting", "ugly",
}

var invitationKeywords = []string{
	"salimos", "una cita", "te invito", "vamos al cine", "vamos a cenar",
	"quieres salir", "go on a date", "go out with me", "let's meet",
	"lets meet", "dinner together", "movie together",
}

var sadnessKeywords = []string{
	"estoy triste", "me siento mal", "me siento solo", "me siento sola",
	"tuve un mal dia", "quiero llorar", "estoy deprimido", "estoy deprimida",
	"i'm sad", "im sad", "feeling down", "feel lonely", "bad day", "want to cry",
	"i'm depressed", "im depressed",
}

var giftMentionKeywords = []string{
	"te compre", "te traje", "un regalo para ti", "tengo un regalo",
	"bought you", "got you a gift", "have a present",
}

var ignoreKeywords = []string{
	"no me hables", "dejame en paz", "no quiero hablar",
	"leave me alone", "stop talking", "whatever", "me da igual",
}

var positiveWords = []string{
	"feliz", "genial", "gracias", "encanta", "hermosa", "hermoso", "lindo",
	"linda", "amor", "bien", "perfecto", "alegria", "rico", "divertido",
	"happy", "great", "thanks", "thank you", "love", "wonderful", "nice",
	"good", "awesome", "sweet", "fun", "glad",
}

var negativeWords = []string{
	"triste", "odio", "mal", "horrible", "feo", "fea", "asco", "enojado",
	"enojada", "furioso", "llorar", "solo", "sola", "aburrido", "basura",
	"sad", "hate", "bad", "awful", "terrible", "angry", "cry", "lonely",
	"boring", "annoying", "worst", "ugly",
}

// baseDeltaByIntent es el delta de reglas; el LLM sólo lo refina (§ motor de
// emociones). Los negativos pesan más que los positivos a propósito.
var baseDeltaByIntent = map[string]int{
	domain.IntentSmallTalk:      1,
	domain.IntentCompliment:     4,
	domain.IntentLoveConfession: 8,
	domain.IntentApology:        5,
	domain.IntentInvitation:     3,
	domain.IntentGiftSend:       2,
	domain.IntentRequestNSFW:    0,
	domain.IntentExpressSadness: 0,
	domain.IntentInsult:         -10,
	domain.IntentIgnore:         -3,
}

/*
========================
 Motor de pre-cómputo
========================
*/

// PrecomputeEngine centraliza la clasificación determinista del mensaje
// entrante: intención, sentimiento, dificultad, NSFW y veredicto de seguridad.
type PrecomputeEngine struct{}

// DefaultPrecomputeEngine permite uso directo sin instanciar.
var DefaultPrecomputeEngine = PrecomputeEngine{}

// Analyze clasifica el mensaje con tablas de reglas. No consume servicios
// externos y es estable entre llamadas: misma entrada, misma salida.
func (e PrecomputeEngine) Analyze(message string) domain.PrecomputeResult {
	msg := normalize(message)

	res := domain.PrecomputeResult{
		Intent:     domain.IntentSmallTalk,
		SafetyFlag: domain.SafetyOK,
	}

	if kw := firstMatch(msg, blockKeywords); kw != "" {
		res.SafetyFlag = domain.SafetyBlock
		res.MatchedKeyword = kw
		res.DifficultyRating = 10
		return res
	}
	if kw := firstMatch(msg, reviewKeywords); kw != "" {
		res.SafetyFlag = domain.SafetyReview
		res.MatchedKeyword = kw
	}

	res.IsNSFW = containsAny(msg, nsfwKeywords)
	res.Intent = e.classifyIntent(msg, res.IsNSFW)
	res.SentimentScore = e.scoreSentiment(msg)
	res.BaseDelta = baseDeltaByIntent[res.Intent]
	res.DifficultyRating = e.rateDifficulty(msg, res)
	return res
}

// classifyIntent evalúa las tablas en orden de prioridad: las señales fuertes
// (disculpa, confesión, insulto) ganan sobre las ambiguas.
func (PrecomputeEngine) classifyIntent(msg string, isNSFW bool) string {
	switch {
	case containsAny(msg, apologyKeywords):
		return domain.IntentApology
	case containsAny(msg, confessionKeywords):
		return domain.IntentLoveConfession
	case containsAny(msg, insultKeywords):
		return domain.IntentInsult
	case isNSFW:
		return domain.IntentRequestNSFW
	case containsAny(msg, giftMentionKeywords):
		return domain.IntentGiftSend
	case containsAny(msg, invitationKeywords):
		return domain.IntentInvitation
	case containsAny(msg, complimentKeywords):
		return domain.IntentCompliment
	case containsAny(msg, sadnessKeywords):
		return domain.IntentExpressSadness
	case containsAny(msg, ignoreKeywords):
		return domain.IntentIgnore
	default:
		return domain.IntentSmallTalk
	}
}

// scoreSentiment devuelve un score en [-1, 1] proporcional a los matches.
func (PrecomputeEngine) scoreSentiment(msg string) float64 {
	pos := countMatches(msg, positiveWords)
	neg := countMatches(msg, negativeWords)
	if pos == 0 && neg == 0 {
		return 0
	}
	score := float64(pos-neg) * 0.34
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

// rateDifficulty estima 1-10 qué tan exigente es responder el mensaje.
func (PrecomputeEngine) rateDifficulty(msg string, res domain.PrecomputeResult) int {
	d := 2
	if len(msg) > 200 {
		d += 2
	} else if len(msg) > 80 {
		d++
	}
	switch res.Intent {
	case domain.IntentLoveConfession, domain.IntentRequestNSFW:
		d += 3
	case domain.IntentApology, domain.IntentExpressSadness, domain.IntentInsult:
		d += 2
	}
	if res.SentimentScore <= -0.5 {
		d += 2
	}
	if res.SafetyFlag == domain.SafetyReview {
		d += 2
	}
	if d > 10 {
		d = 10
	}
	return d
}
