package rest

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// StatusError неуспешный HTTP ответ сервера вызовов.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	TrackingID string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s (tracking id %s)", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.TrackingID)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary сообщает, имеет ли смысл повторить запрос.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// StatusCode возвращает HTTP код ошибки или 0, если err не StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
