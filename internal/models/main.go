// Package models defines the core data structures for users, measurements,
// encrypted envelopes and the client-side sync state.
package models

import "time"

// User represents an application user with credentials.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Email is the login name chosen by the user.
	Email string `json:"email"`
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash []byte `json:"-"`
	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"createdAt"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is the client-side record of an authenticated login.
type Session struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the session carries a token that has not expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && s.UserID != "" && now.Before(s.ExpiresAt)
}

// Measurement is a single glucose reading.
type Measurement struct {
	// ID is client generated and unique per user.
	ID string `json:"id"`
	// Value is the glucose level in mg/dL.
	Value float64 `json:"value"`
	// Type is one of the MeasurementType labels.
	Type string `json:"type"`
	// Timestamp is the reading time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Notes holds optional free text.
	Notes string `json:"notes,omitempty"`
}

// MeasurementType enumerates the reading contexts.
type MeasurementType string

const (
	// Fasting is a reading taken after at least eight hours without food.
	Fasting MeasurementType = "fasting"
	// BeforeMeal is a pre-prandial reading.
	BeforeMeal MeasurementType = "before_meal"
	// AfterMeal is a post-prandial reading.
	AfterMeal MeasurementType = "after_meal"
	// Bedtime is a reading taken before sleep.
	Bedtime MeasurementType = "bedtime"
	// Random is a reading without context.
	Random MeasurementType = "random"
)

// MeasurementTypes lists the accepted type labels.
var MeasurementTypes = []MeasurementType{Fasting, BeforeMeal, AfterMeal, Bedtime, Random}

// Envelope is the encrypted-at-rest form of a measurement in the document backend.
type Envelope struct {
	ID            string `json:"id"`
	UserID        string `json:"userId"`
	EncryptedData string `json:"encryptedData"`
	Timestamp     int64  `json:"timestamp"`

	// Corrupted marks an envelope flagged by the repair tooling.
	Corrupted bool `json:"corrupted,omitempty"`
	// OriginalEncryptedData preserves the ciphertext at flag time.
	OriginalEncryptedData string `json:"originalEncryptedData,omitempty"`
	// CorruptedAt is the flag time in epoch milliseconds, zero when not flagged.
	CorruptedAt int64 `json:"corruptedAt,omitempty"`
	// RepairAttempts counts failed repair passes.
	RepairAttempts int `json:"repairAttempts,omitempty"`
	// RepairedAt is the time of the last successful repair in epoch milliseconds.
	RepairedAt int64 `json:"repairedAt,omitempty"`
}

// SyncMetadata is owned by the sync coordinator and persisted locally.
type SyncMetadata struct {
	Enabled                bool   `json:"enabled"`
	LastSyncTime           *int64 `json:"lastSyncTime"`
	PendingOperationsCount int    `json:"pendingOperationsCount"`
}

// KeyRecord is the persisted encryption key state.
type KeyRecord struct {
	Version int `json:"version"`
	// Key is the base64 encoded key material.
	Key string `json:"key"`
	// Hash is a short fingerprint of the key for diagnostics.
	Hash string `json:"hash"`
	// LegacyKeys holds superseded keys, most recent first.
	LegacyKeys []LegacyKey `json:"legacyKeys"`
}

// LegacyKey is a superseded key kept to decrypt old envelopes.
type LegacyKey struct {
	Version int    `json:"version"`
	Key     string `json:"key"`
	Hash    string `json:"hash"`
}
