// Package phone provides phone number normalization and carrier detection
package phone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Carrier identifies a mobile network operator
type Carrier string

const (
	CarrierOrange   Carrier = "orange"
	CarrierAfricell Carrier = "africell"
	CarrierQcell    Carrier = "qcell"
	CarrierUnknown  Carrier = "unknown"
)

// Mobile prefixes (first two digits of the national number) per operator.
var carrierPrefixes = map[string]Carrier{
	"72": CarrierOrange,
	"75": CarrierOrange,
	"76": CarrierOrange,
	"78": CarrierOrange,
	"79": CarrierOrange,
	"30": CarrierAfricell,
	"33": CarrierAfricell,
	"77": CarrierAfricell,
	"80": CarrierAfricell,
	"88": CarrierAfricell,
	"99": CarrierAfricell,
	"31": CarrierQcell,
	"32": CarrierQcell,
	"34": CarrierQcell,
}

// Normalize parses free-form input and returns the canonical E.164 form.
// National numbers are interpreted in the given default region.
func Normalize(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number %q: %w", trimmed, err)
	}

	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q for region %s", trimmed, region)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// DetectCarrier returns the operator serving a normalized number.
// Detection is prefix-based on the national significant number.
func DetectCarrier(normalized, region string) Carrier {
	num, err := phonenumbers.Parse(normalized, region)
	if err != nil {
		return CarrierUnknown
	}

	national := strconv.FormatUint(num.GetNationalNumber(), 10)
	if len(national) < 2 {
		return CarrierUnknown
	}

	if c, ok := carrierPrefixes[national[:2]]; ok {
		return c
	}
	return CarrierUnknown
}
