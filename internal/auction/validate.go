package auction

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

func ValidateSchedule(req ScheduleRequest, now time.Time) error {
	var errs ValidationErrors
	if strings.TrimSpace(req.CatalogItemID) == "" {
		errs.add("catalogItemId", "required")
	}
	if req.StartPrice < 0 {
		errs.add("startPrice", "must not be negative")
	}
	if req.BidUnit <= 0 {
		errs.add("bidUnit", "must be positive")
	} else if req.StartPrice > math.MaxInt64-req.BidUnit {
		errs.add("startPrice", "leaves no room for a first bid")
	}
	if req.StartTime.IsZero() {
		errs.add("startTime", "required")
	}
	if req.EndTime.IsZero() {
		errs.add("endTime", "required")
	} else if !req.EndTime.After(req.StartTime) {
		errs.add("endTime", "must be after startTime")
	} else if !req.EndTime.After(now) {
		errs.add("endTime", "must be in the future")
	}
	return errs.orNil()
}

// ValidateBidRequest checks the request shape only. Amount rules are applied
// by the coordinator so that a low bid is still recorded.
func ValidateBidRequest(itemID, memberID string) error {
	var errs ValidationErrors
	if itemID == "" {
		errs.add("itemId", "required")
	}
	if memberID == "" {
		errs.add("memberId", "required")
	}
	return errs.orNil()
}

func ValidateDeliveryInput(in DeliveryInput) error {
	var errs ValidationErrors
	required := map[string]string{
		"receiverName":  in.ReceiverName,
		"receiverPhone": in.ReceiverPhone,
		"address":       in.Address,
	}
	for _, f := range []string{"receiverName", "receiverPhone", "address"} {
		if strings.TrimSpace(required[f]) == "" {
			errs.add(f, "required")
		}
	}
	if utf8.RuneCountInString(in.ReceiverName) > 50 {
		errs.add("receiverName", "at most 50 characters")
	}
	if p := strings.TrimSpace(in.ReceiverPhone); p != "" && !validPhone(p) {
		errs.add("receiverPhone", "digits and dashes only, 9 to 13 digits")
	}
	if utf8.RuneCountInString(in.Address) > 200 {
		errs.add("address", "at most 200 characters")
	}
	if utf8.RuneCountInString(in.AddressDetail) > 200 {
		errs.add("addressDetail", "at most 200 characters")
	}
	return errs.orNil()
}

func validPhone(p string) bool {
	digits := 0
	for _, r := range p {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-':
		default:
			return false
		}
	}
	return digits >= 9 && digits <= 13
}

// checkAmount applies the increment rule: ties and sub-unit raises are never
// accepted, and nothing is accepted once the price sits at the ceiling.
func checkAmount(item AuctionItem, amount int64) error {
	if item.AtCeiling() || amount <= 0 || amount < item.MinNextBid() {
		return ErrInvalidBidAmount
	}
	return nil
}
