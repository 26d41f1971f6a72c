package auction

import (
	"errors"
	"strings"
)

var (
	ErrInvalidBidAmount         = errors.New("bid amount below current price plus bid unit")
	ErrAuctionNotActive         = errors.New("auction not active")
	ErrItemNotFound             = errors.New("auction item not found")
	ErrSessionNotFound          = errors.New("auction session not found")
	ErrParticipantNotFound      = errors.New("participant not found")
	ErrDeliveryNotFound         = errors.New("delivery not found")
	ErrDeliveryAlreadySubmitted = errors.New("delivery already submitted")
	ErrDeliveryDeadlineExpired  = errors.New("delivery deadline expired")
	ErrNotDeliveryOwner         = errors.New("delivery belongs to another member")
	ErrHistoryNotReady          = errors.New("auction not settled yet")
	ErrAlreadySettled           = errors.New("auction already settled")
	ErrSessionClosed            = errors.New("session no longer accepts joins")

	// ErrPriceConflict is returned by stores when the compare-and-swap on the
	// current price loses. The coordinator retries it.
	ErrPriceConflict = errors.New("current price changed")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the structured result of a request validation.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationErrors) add(field, msg string) {
	*v = append(*v, FieldError{Field: field, Message: msg})
}

// orNil keeps a nil error nil instead of a typed empty slice.
func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
