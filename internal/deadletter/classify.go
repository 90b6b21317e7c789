package deadletter

import (
	apperrors "hookgate/pkg/errors"
)

// Classify maps a processing error onto the taxonomy. The message is bounded
// for storage; the stack is only present for recovered panics.
func Classify(err error) (ErrorInfo, string) {
	appErr := apperrors.Classify(err)
	if appErr == nil {
		appErr = apperrors.ErrUnknown
	}

	msg := appErr.PublicMessage()
	if err != nil {
		msg = err.Error()
	}

	return ErrorInfo{
		Code:      appErr.Code,
		Message:   apperrors.Truncate(msg),
		Retryable: appErr.IsRetryable(),
		Category:  string(appErr.Category),
	}, apperrors.StackTrace(appErr)
}
