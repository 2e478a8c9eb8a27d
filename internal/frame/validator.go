package frame

import (
	"fmt"
	"regexp"

	"github.com/satriahrh/geminiplay/domain"
)

// MinPayloadLength is the shortest payload accepted as a real image
const MinPayloadLength = 1024

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// Validate reports whether payload looks like a usable base64 image
func Validate(payload string) bool {
	return ValidateFrame(payload) == nil
}

// ValidateFrame is Validate with the rejection reason
func ValidateFrame(payload string) error {
	if len(payload) < MinPayloadLength {
		return domain.NewError(domain.KindValidationFailed, "frame.Validate",
			fmt.Sprintf("payload too short: %d < %d", len(payload), MinPayloadLength), nil)
	}
	if !base64Pattern.MatchString(payload) {
		return domain.NewError(domain.KindValidationFailed, "frame.Validate",
			"payload is not base64", nil)
	}
	return nil
}
