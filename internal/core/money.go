// Package core provides the settlement engine and amount parsing helpers.
//
// This file contains functions for parsing monetary amounts typed by users
// and formatting them for display.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a user-entered decimal string to a float64.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Zero is a
// valid amount (a participant may have paid nothing); signs, exponents and
// thousands separators are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("0")     -> 0, nil
//	ParseAmount("-1")    -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	digits := 0
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) {
				return 0, ErrInvalidAmount
			}
			digits++
		}
	}
	if digits == 0 {
		return 0, ErrInvalidAmount
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return v, nil
}

// FormatAmount renders an amount with two decimals for display. Values that
// round to zero are printed without a sign.
func FormatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if s == "-0.00" {
		return "0.00"
	}
	return s
}
