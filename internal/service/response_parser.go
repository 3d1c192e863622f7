package service

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"companion-llm/internal/domain"
)

// ResponseParser centraliza la limpieza y el parseo de la salida JSON del LLM.
// La cascada es: JSON estricto, fences, primer objeto {...}, normalización de
// signos, reparación de comillas, y por último texto plano con parse_success
// en false. El pipeline nunca falla por una respuesta sucia.
type ResponseParser struct{}

// DefaultResponseParser permite uso directo sin instanciar.
var DefaultResponseParser = ResponseParser{}

// Parse intenta extraer un CompanionReply de la respuesta cruda del modelo.
// Campos faltantes se completan con defaults; emotion_delta se acota a ±30.
func (p ResponseParser) Parse(raw string) domain.CompanionReply {
	cleaned := stripJSONFences(raw)

	candidates := []string{cleaned}
	if obj := extractFirstJSONObject(cleaned); obj != "" && obj != cleaned {
		candidates = append(candidates, obj)
	}
	if obj := extractFirstJSONObject(raw); obj != "" {
		candidates = append(candidates, obj)
	}

	var firstErr error
	for _, c := range candidates {
		for _, variant := range []string{c, normalizeNumberSigns(c), repairQuotes(normalizeNumberSigns(c))} {
			reply, err := tryUnmarshalReply(variant)
			if err == nil {
				return reply
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if reply, ok := extractReplyByRegex(cleaned); ok {
		out := defaultReply(reply)
		out.ParseSuccess = true
		return out
	}

	detail := "no json object found"
	if firstErr != nil {
		detail = firstErr.Error()
	}
	out := defaultReply(strings.TrimSpace(cleaned))
	out.ParseSuccess = false
	out.ParseError = detail
	return out
}

func tryUnmarshalReply(candidate string) (domain.CompanionReply, error) {
	var tmp struct {
		Reply        string          `json:"reply"`
		EmotionDelta json.RawMessage `json:"emotion_delta"`
		Intent       string          `json:"intent"`
		Thought      string          `json:"thought"`
		IsNSFW       json.RawMessage `json:"is_nsfw"`
	}
	if err := json.Unmarshal([]byte(candidate), &tmp); err != nil {
		return domain.CompanionReply{}, err
	}
	text := strings.TrimSpace(tmp.Reply)
	if text == "" {
		return domain.CompanionReply{}, fmt.Errorf("empty reply field")
	}

	out := defaultReply(text)
	out.ParseSuccess = true
	out.EmotionDelta = clampDelta(coerceInt(tmp.EmotionDelta))
	if intent := normalizeIntent(tmp.Intent); intent != "" {
		out.Intent = intent
	}
	out.Thought = strings.TrimSpace(tmp.Thought)
	out.IsNSFW = coerceBool(tmp.IsNSFW)
	return out, nil
}

func defaultReply(text string) domain.CompanionReply {
	return domain.CompanionReply{
		Reply:        text,
		EmotionDelta: 0,
		Intent:       domain.IntentSmallTalk,
		Thought:      "",
		IsNSFW:       false,
	}
}

/*
========================
 Reparaciones de JSON
========================
*/

// stripJSONFences quita fences ```json ... ``` y BOM, dejando el contenido usable.
func stripJSONFences(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	s = strings.TrimPrefix(s, "\ufeff")

	reStart := regexp.MustCompile("(?is)^\\s*```(?:json)?\\s*")
	reEnd := regexp.MustCompile("(?is)\\s*```\\s*$")
	s = reStart.ReplaceAllString(s, "")
	s = reEnd.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// extractFirstJSONObject devuelve el primer objeto {...} balanceado,
// respetando strings con llaves escapadas adentro.
func extractFirstJSONObject(input string) string {
	start := strings.IndexByte(input, '{')
	if start == -1 {
		return ""
	}

	inString := false
	escape := false
	depth := 0

	for i := start; i < len(input); i++ {
		ch := input[i]

		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
			if depth < 0 {
				return ""
			}
		}
	}

	return ""
}

var rePlusNumber = regexp.MustCompile(`(:\s*)\+(\d)`)

// normalizeNumberSigns arregla el vicio del modelo de escribir "+20" como número.
func normalizeNumberSigns(s string) string {
	return rePlusNumber.ReplaceAllString(s, "${1}$2")
}

// repairQuotes convierte comillas simples en dobles cuando el candidato no
// trae ninguna doble; es el último intento antes del fallback de texto plano.
func repairQuotes(s string) string {
	if strings.Contains(s, `"`) || !strings.Contains(s, "'") {
		return s
	}
	return strings.ReplaceAll(s, "'", `"`)
}

var reReplyField = regexp.MustCompile(`(?is)"reply"\s*:\s*"((?:\\.|[^"\\])*)"`)

// extractReplyByRegex rescata el campo reply aunque el resto del JSON esté roto.
func extractReplyByRegex(s string) (string, bool) {
	m := reReplyField.FindStringSubmatch(s)
	if len(m) < 2 {
		return "", false
	}

	unq, err := strconv.Unquote(`"` + m[1] + `"`)
	if err != nil {
		unq = minimalUnescape(m[1])
	}
	unq = strings.TrimSpace(unq)
	if unq == "" {
		return "", false
	}
	return unq, true
}

func minimalUnescape(s string) string {
	replacer := strings.NewReplacer(
		`\\`, `\`,
		`\"`, `"`,
		`\n`, "\n",
		`\r`, "\r",
		`\t`, "\t",
	)
	return replacer.Replace(s)
}

/*
========================
 Coerción de campos
========================
*/

// coerceInt acepta número, número con decimales o string numérica ("+5", "5").
func coerceInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// coerceBool acepta bool, "true"/"false", "yes"/"no" y 0/1.
func coerceBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(raw)), `"`))
	switch s {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

func normalizeIntent(s string) string {
	intent := strings.ToUpper(strings.TrimSpace(s))
	switch intent {
	case domain.IntentSmallTalk, domain.IntentCompliment, domain.IntentLoveConfession,
		domain.IntentApology, domain.IntentInvitation, domain.IntentGiftSend,
		domain.IntentRequestNSFW, domain.IntentExpressSadness, domain.IntentInsult,
		domain.IntentIgnore:
		return intent
	}
	return ""
}

func clampDelta(d int) int {
	if d > 30 {
		return 30
	}
	if d < -30 {
		return -30
	}
	return d
}
