// Package vn normalizes and parses visit numbers of the form VN<YYMMDD>-<NNNN>.
package vn

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmpty         = errors.New("visit number is required")
	ErrInvalidFormat = errors.New("invalid visit number format")
)

var (
	fullPattern   = regexp.MustCompile(`^VN(\d{2})(\d{2})(\d{2})-(\d{4})$`)
	numberPattern = regexp.MustCompile(`^\d+$`)
	prefixPattern = regexp.MustCompile(`^VN(\d+)$`)
)

type Parts struct {
	Year     int
	Month    time.Month
	Day      int
	Sequence int
}

// Date returns the visit day at midnight in loc.
func (p Parts) Date(loc *time.Location) time.Time {
	return time.Date(p.Year, p.Month, p.Day, 0, 0, 0, 0, loc)
}

// TodayPrefix returns "VN260112-" for 12 January 2026.
func TodayPrefix(now time.Time) string {
	return fmt.Sprintf("VN%02d%02d%02d-", now.Year()%100, int(now.Month()), now.Day())
}

// Normalize accepts a bare sequence ("1", "0001"), a prefixed sequence
// ("VN1") or a full visit number and returns the full form. Short forms are
// resolved against now's date.
func Normalize(input string, now time.Time) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrEmpty
	}
	if numberPattern.MatchString(trimmed) {
		return withSequence(trimmed, now)
	}
	if m := prefixPattern.FindStringSubmatch(trimmed); m != nil {
		return withSequence(m[1], now)
	}
	if fullPattern.MatchString(trimmed) {
		return trimmed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, trimmed)
}

func withSequence(digits string, now time.Time) (string, error) {
	if len(digits) > 4 {
		return "", fmt.Errorf("%w: sequence %q longer than 4 digits", ErrInvalidFormat, digits)
	}
	return TodayPrefix(now) + strings.Repeat("0", 4-len(digits)) + digits, nil
}

func IsValid(visitNumber string) bool {
	return fullPattern.MatchString(strings.TrimSpace(visitNumber))
}

func Parse(visitNumber string) (Parts, bool) {
	m := fullPattern.FindStringSubmatch(visitNumber)
	if m == nil {
		return Parts{}, false
	}
	yy, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	dd, _ := strconv.Atoi(m[3])
	seq, _ := strconv.Atoi(m[4])
	return Parts{Year: 2000 + yy, Month: time.Month(mm), Day: dd, Sequence: seq}, true
}

// IsToday reports whether the visit number was issued on now's date.
func IsToday(visitNumber string, now time.Time) bool {
	p, ok := Parse(visitNumber)
	if !ok {
		return false
	}
	return p.Year == now.Year() && p.Month == now.Month() && p.Day == now.Day()
}

func Generate(sequence int, now time.Time) string {
	return fmt.Sprintf("%s%04d", TodayPrefix(now), sequence)
}

// Sequence returns the trailing sequence digits, or the input unchanged when
// it has no dash.
func Sequence(visitNumber string) string {
	idx := strings.LastIndex(visitNumber, "-")
	if idx < 0 {
		return visitNumber
	}
	return visitNumber[idx+1:]
}

// Display renders "VN 26/01/12 - 0001"; malformed input is returned as is.
func Display(visitNumber string) string {
	m := fullPattern.FindStringSubmatch(visitNumber)
	if m == nil {
		return visitNumber
	}
	return fmt.Sprintf("VN %s/%s/%s - %s", m[1], m[2], m[3], m[4])
}

// Compare orders visit numbers by date then sequence. Unparseable input
// compares equal.
func Compare(a, b string) int {
	pa, okA := Parse(a)
	pb, okB := Parse(b)
	if !okA || !okB {
		return 0
	}
	da, db := pa.Date(time.UTC), pb.Date(time.UTC)
	switch {
	case da.Before(db):
		return -1
	case da.After(db):
		return 1
	case pa.Sequence < pb.Sequence:
		return -1
	case pa.Sequence > pb.Sequence:
		return 1
	}
	return 0
}

// ErrorMessage explains why input was rejected.
func ErrorMessage(input string) string {
	switch {
	case strings.TrimSpace(input) == "":
		return "please enter a visit number"
	case strings.Contains(input, " "):
		return "visit number must not contain spaces"
	case len(input) < 4:
		return "visit number is too short"
	case len(input) > 20:
		return "visit number is too long"
	}
	return "invalid visit number (accepted: 0001, VN0001 or VN260112-0001)"
}
