package model

import (
	"strconv"
	"strings"
	"time"
)

type RecurrenceKind int

const (
	RecurrenceNone RecurrenceKind = iota
	RecurrenceLegacy
	RecurrenceRule
	RecurrenceInvalid
)

func (k RecurrenceKind) String() string {
	switch k {
	case RecurrenceNone:
		return "none"
	case RecurrenceLegacy:
		return "legacy"
	case RecurrenceRule:
		return "rule"
	default:
		return "invalid"
	}
}

var legacyRules = map[string]string{
	"DAILY":    "FREQ=DAILY",
	"WEEKLY":   "FREQ=WEEKLY",
	"BIWEEKLY": "FREQ=WEEKLY;INTERVAL=2",
	"MONTHLY":  "FREQ=MONTHLY",
}

// Recurrence is resolved once from the stored column: a legacy keyword, an
// RFC 5545 rule body, nothing, or an unrecognised value kept for logging.
type Recurrence struct {
	Kind RecurrenceKind
	Raw  string
	rule string
}

func NoRecurrence() Recurrence {
	return Recurrence{Kind: RecurrenceNone}
}

func ParseRecurrence(raw string) Recurrence {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "NONE") {
		return Recurrence{Kind: RecurrenceNone, Raw: raw}
	}
	if rule, ok := legacyRules[strings.ToUpper(v)]; ok {
		return Recurrence{Kind: RecurrenceLegacy, Raw: raw, rule: rule}
	}
	body := v
	if len(body) >= len("RRULE:") && strings.EqualFold(body[:len("RRULE:")], "RRULE:") {
		body = body[len("RRULE:"):]
	}
	if strings.Contains(strings.ToUpper(body), "FREQ=") {
		return Recurrence{Kind: RecurrenceRule, Raw: raw, rule: body}
	}
	return Recurrence{Kind: RecurrenceInvalid, Raw: raw}
}

func (r Recurrence) Recurring() bool {
	return r.Kind == RecurrenceLegacy || r.Kind == RecurrenceRule
}

// Rule returns the canonical rule body without an RRULE: prefix or DTSTART.
func (r Recurrence) Rule() string {
	return r.rule
}

// SyntheticInstanceID derives a stable id for one occurrence of sourceID.
func SyntheticInstanceID(sourceID string, occurrence time.Time) string {
	return sourceID + "_" + strconv.FormatInt(occurrence.UnixMilli(), 10)
}

// SourceEventID maps a synthetic occurrence id back to its template id.
// Ids without a numeric suffix are returned unchanged.
func SourceEventID(id string) string {
	i := strings.LastIndex(id, "_")
	if i <= 0 || i == len(id)-1 {
		return id
	}
	if _, err := strconv.ParseInt(id[i+1:], 10, 64); err != nil {
		return id
	}
	return id[:i]
}
