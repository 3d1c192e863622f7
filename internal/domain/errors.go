package domain

import "fmt"

// Códigos de error de la tubería, estables de cara al adaptador HTTP.
const (
	CodeSessionNotFound      = "ESESSION_NOT_FOUND"
	CodeCharacterNotFound    = "ECHARACTER_NOT_FOUND"
	CodeRateLimited          = "ERATE_LIMITED"
	CodeInsufficientCredits  = "EINSUFFICIENT_CREDITS"
	CodeInsufficientStamina  = "EINSUFFICIENT_STAMINA"
	CodeBlocked              = "EBLOCKED"
	CodeLLMUnavailable       = "ELLM_UNAVAILABLE"
	CodeTransient            = "ETRANSIENT"
	CodeValidation           = "EVALIDATION"
	CodeUnauthorized         = "EUNAUTHORIZED"
	CodeSubscriptionRequired = "ESUBSCRIPTION_REQUIRED"
	CodeDailyCap             = "EDAILY_CAP"
	CodeConflict             = "ECONFLICT"
	CodeUnimplemented        = "EUNIMPLEMENTED"
	CodeInternal             = "EINTERNAL"
)

// CodedError transporta un código estable más detalle estructurado
// (retry_after, required/current, etc.) hasta el borde HTTP.
type CodedError struct {
	Code    string
	Message string
	Detail  map[string]any
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCodedError arma un error de pipeline con su código estable.
func NewCodedError(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message, Detail: map[string]any{}}
}

// With agrega un campo de detalle y devuelve el mismo error (encadenable).
func (e *CodedError) With(key string, value any) *CodedError {
	if e.Detail == nil {
		e.Detail = map[string]any{}
	}
	e.Detail[key] = value
	return e
}
