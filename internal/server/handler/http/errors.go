package http

import (
	"errors"
	"net/http"

	"github.com/atinyakov/GophAuth/internal/backup"
	"github.com/atinyakov/GophAuth/internal/codec"
	"github.com/atinyakov/GophAuth/internal/lock"
	"github.com/atinyakov/GophAuth/internal/otp"
	"github.com/atinyakov/GophAuth/internal/service"
	"github.com/atinyakov/GophAuth/internal/settings"
	"github.com/atinyakov/GophAuth/internal/uri"
	"github.com/atinyakov/GophAuth/internal/vault"
)

var statusByError = []struct {
	err    error
	status int
}{
	{service.ErrLocked, http.StatusLocked},
	{service.ErrStepUpRequired, http.StatusForbidden},
	{lock.ErrIncorrectCredential, http.StatusUnauthorized},
	{lock.ErrInvalidState, http.StatusConflict},
	{lock.ErrPinAlreadySet, http.StatusConflict},
	{lock.ErrPinRequired, http.StatusConflict},
	{lock.ErrInvalidPin, http.StatusBadRequest},
	{lock.ErrCanceled, http.StatusBadRequest},
	{lock.ErrBiometricUnavailable, http.StatusNotImplemented},
	{vault.ErrNotFound, http.StatusNotFound},
	{vault.ErrDuplicateID, http.StatusConflict},
	{vault.ErrInvalidAccount, http.StatusUnprocessableEntity},
	{vault.ErrCounterExhausted, http.StatusConflict},
	{uri.ErrInvalidURI, http.StatusUnprocessableEntity},
	{uri.ErrUnrecognized, http.StatusUnprocessableEntity},
	{codec.ErrMalformedPayload, http.StatusUnprocessableEntity},
	{codec.ErrInvalidEncoding, http.StatusUnprocessableEntity},
	{backup.ErrDecryptionFailed, http.StatusUnprocessableEntity},
	{backup.ErrFormatVersionMismatch, http.StatusUnprocessableEntity},
	{backup.ErrMalformedPayload, http.StatusUnprocessableEntity},
	{backup.ErrEmptyPassphrase, http.StatusBadRequest},
	{backup.ErrEmptyContent, http.StatusBadRequest},
	{settings.ErrInvalidValue, http.StatusBadRequest},
	{otp.ErrUnsupportedAlgorithm, http.StatusUnprocessableEntity},
	{otp.ErrInvalidDigitCount, http.StatusUnprocessableEntity},
	{otp.ErrEmptySecret, http.StatusUnprocessableEntity},
	{otp.ErrInvalidPeriod, http.StatusUnprocessableEntity},
}

// statusFor maps a service error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	for _, e := range statusByError {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// writeError answers with the status for err. Internal errors are not
// echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	http.Error(w, msg, status)
}
