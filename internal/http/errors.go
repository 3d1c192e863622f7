package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"companion-llm/internal/domain"
)

// statusForCode mapea los códigos estables del pipeline a status HTTP.
var statusForCode = map[string]int{
	domain.CodeValidation:           http.StatusBadRequest,
	domain.CodeUnauthorized:         http.StatusUnauthorized,
	domain.CodeInsufficientCredits:  http.StatusPaymentRequired,
	domain.CodeInsufficientStamina:  http.StatusPaymentRequired,
	domain.CodeSubscriptionRequired: http.StatusForbidden,
	domain.CodeBlocked:              http.StatusForbidden,
	domain.CodeSessionNotFound:      http.StatusNotFound,
	domain.CodeCharacterNotFound:    http.StatusNotFound,
	domain.CodeConflict:             http.StatusConflict,
	domain.CodeRateLimited:          http.StatusTooManyRequests,
	domain.CodeDailyCap:             http.StatusTooManyRequests,
	domain.CodeLLMUnavailable:       http.StatusServiceUnavailable,
	domain.CodeTransient:            http.StatusServiceUnavailable,
	domain.CodeUnimplemented:        http.StatusNotImplemented,
	domain.CodeInternal:             http.StatusInternalServerError,
}

// writeError traduce un error del core a la respuesta HTTP. Los CodedError
// exponen código y detalle estructurado; cualquier otro error es un 500
// opaco para no filtrar internals.
func writeError(c *gin.Context, err error) {
	var coded *domain.CodedError
	if !errors.As(err, &coded) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status, ok := statusForCode[coded.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := gin.H{"error": coded.Message, "code": coded.Code}
	for k, v := range coded.Detail {
		body[k] = v
	}

	if retry, ok := coded.Detail["retry_after"]; ok {
		if secs, ok := retry.(int); ok {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	}

	c.JSON(status, body)
}
