package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// normalizeTlf formats a phone number as E.164. Numbers without a leading +
// are read in the default region.
func normalizeTlf(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("phone number is empty")
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("parse phone number %q: %w", raw, err)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
