package models

import (
	"math"
	"net/mail"
	"slices"
	"strings"

	"github.com/atinyakov/glucosync/internal/apperr"
)

const (
	// MinGlucose is the lowest physiologically plausible reading in mg/dL.
	MinGlucose = 20
	// MaxGlucose is the highest reading a home meter reports in mg/dL.
	MaxGlucose = 600
	// MinPasswordLength is enforced on registration.
	MinPasswordLength = 8
	// MaxNotesLength bounds the free-text field.
	MaxNotesLength = 500
)

// ValidType reports whether t is a known measurement type label.
func ValidType(t string) bool {
	return slices.Contains(MeasurementTypes, MeasurementType(t))
}

// Validate checks the structure of a measurement at the CRUD boundary.
// It does not enforce the physiological range.
func (m *Measurement) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return apperr.Invalid("id", "must not be empty")
	case !ValidType(m.Type):
		return apperr.Invalid("type", "unknown measurement type "+m.Type)
	case m.Timestamp <= 0:
		return apperr.Invalid("timestamp", "must be a positive epoch milliseconds value")
	case math.IsNaN(m.Value) || math.IsInf(m.Value, 0):
		return apperr.Invalid("value", "must be a finite number")
	case len(m.Notes) > MaxNotesLength:
		return apperr.Invalid("notes", "too long")
	}
	return nil
}

// ValidateEntry is applied when the user enters a reading.
func (m *Measurement) ValidateEntry() error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Value < MinGlucose || m.Value > MaxGlucose {
		return apperr.Invalid("value", "outside the 20..600 mg/dL range")
	}
	return nil
}

// ValidateCredentials checks a register/login payload.
func ValidateCredentials(email, password string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.Invalid("email", "malformed address")
	}
	if len(password) < MinPasswordLength {
		return apperr.Invalid("password", "must be at least 8 characters")
	}
	return nil
}
