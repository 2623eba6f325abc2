package call

import (
	"errors"
	"fmt"
)

// ErrorCode классифицирует ошибки сессии вызова.
type ErrorCode int

const (
	// ErrorCodeTransportFailure - транспорт вернул ошибку
	ErrorCodeTransportFailure ErrorCode = iota + 2000
	// ErrorCodeDesynchronization - обнаружен пропуск обновления снапшота
	ErrorCodeDesynchronization
	// ErrorCodeEntitlementDenied - функция не активирована лицензией
	ErrorCodeEntitlementDenied
	// ErrorCodeMalformedRemoteDescription - удаленный SDP отсутствует или не разбирается
	ErrorCodeMalformedRemoteDescription
	// ErrorCodeMissingResource - в снапшоте нет нужного URL ресурса
	ErrorCodeMissingResource
	// ErrorCodeInvalidState - операция недопустима в текущем состоянии
	ErrorCodeInvalidState
	// ErrorCodeOperationInProgress - другая операция еще не завершена
	ErrorCodeOperationInProgress
	// ErrorCodeInvalidTone - недопустимый символ тона
	ErrorCodeInvalidTone
	// ErrorCodeCapabilityUnavailable - сервер не разрешил отправку тонов
	ErrorCodeCapabilityUnavailable
	// ErrorCodeSessionClosed - сессия уже закрыта
	ErrorCodeSessionClosed
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeTransportFailure:           "TransportFailure",
	ErrorCodeDesynchronization:          "Desynchronization",
	ErrorCodeEntitlementDenied:          "EntitlementDenied",
	ErrorCodeMalformedRemoteDescription: "MalformedRemoteDescription",
	ErrorCodeMissingResource:            "MissingResource",
	ErrorCodeInvalidState:               "InvalidState",
	ErrorCodeOperationInProgress:        "OperationInProgress",
	ErrorCodeInvalidTone:                "InvalidTone",
	ErrorCodeCapabilityUnavailable:      "CapabilityUnavailable",
	ErrorCodeSessionClosed:              "SessionClosed",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// CallError типизированная ошибка сессии вызова.
//
// Сравнение через errors.Is выполняется по коду, поэтому
// errors.Is(err, ErrEntitlementDenied) истинно для любой ошибки с этим кодом.
type CallError struct {
	Code    ErrorCode
	Op      string
	CallID  string
	Message string
	Wrapped error
}

func (e *CallError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.CallID != "" {
		msg = fmt.Sprintf("[call:%s] %s", e.CallID, msg)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap возвращает обернутую ошибку.
func (e *CallError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду.
func (e *CallError) Is(target error) bool {
	var t *CallError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Эталонные ошибки для errors.Is.
var (
	ErrTransportFailure           = &CallError{Code: ErrorCodeTransportFailure}
	ErrDesynchronization          = &CallError{Code: ErrorCodeDesynchronization}
	ErrEntitlementDenied          = &CallError{Code: ErrorCodeEntitlementDenied}
	ErrMalformedRemoteDescription = &CallError{Code: ErrorCodeMalformedRemoteDescription}
	ErrMissingResource            = &CallError{Code: ErrorCodeMissingResource}
	ErrInvalidState               = &CallError{Code: ErrorCodeInvalidState}
	ErrOperationInProgress        = &CallError{Code: ErrorCodeOperationInProgress}
	ErrInvalidTone                = &CallError{Code: ErrorCodeInvalidTone}
	ErrCapabilityUnavailable      = &CallError{Code: ErrorCodeCapabilityUnavailable}
	ErrSessionClosed              = &CallError{Code: ErrorCodeSessionClosed}
)

func newCallError(code ErrorCode, op, callID string, wrapped error) *CallError {
	return &CallError{Code: code, Op: op, CallID: callID, Wrapped: wrapped}
}

// CodeOf возвращает код ошибки сессии или 0, если err не CallError.
func CodeOf(err error) ErrorCode {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
