// Package repair finds envelopes in the document backend that cannot be
// read and lets an operator flag, delete or recover them.
//
// Every operation works per document: a failure on one envelope is counted
// in the result and the batch goes on.
package repair

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/glucosync/internal/apperr"
	"github.com/atinyakov/glucosync/internal/client/encryption"
	"github.com/atinyakov/glucosync/internal/client/remote"
	"github.com/atinyakov/glucosync/internal/models"
)

// Mode selects what CleanCorruptedMeasurements does with a match.
type Mode string

const (
	// ModeFlag keeps the document, marks it corrupted and preserves its ciphertext.
	ModeFlag Mode = "flag"
	// ModeDelete removes the document. It cannot be undone.
	ModeDelete Mode = "delete"
)

// Keyring is the part of the encryption service the repair tool needs.
type Keyring interface {
	Encrypt(plaintext string) (string, error)
	DecryptWithCandidate(ciphertext, candidateKey string) (string, error)
}

// Tool runs the corruption workflows over one envelope collection.
type Tool struct {
	coll remote.Collection
	keys Keyring
	log  *zap.Logger
	now  func() time.Time
}

// New creates a Tool.
func New(coll remote.Collection, keys Keyring, log *zap.Logger) *Tool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tool{coll: coll, keys: keys, log: log, now: time.Now}
}

// AnalysisResult is the outcome of Analyze.
type AnalysisResult struct {
	TotalDocuments       int      `json:"totalDocuments"`
	PotentiallyCorrupted int      `json:"potentiallyCorrupted"`
	CorruptedIDs         []string `json:"corruptedIds"`
	// Flagged counts documents already marked corrupted.
	Flagged int `json:"flagged"`
}

// Analyze applies the structural check to every envelope of userID. It never
// decrypts and never writes.
func (t *Tool) Analyze(ctx context.Context, userID string) (AnalysisResult, error) {
	envs, err := t.coll.List(ctx, userID)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("list documents: %w", err)
	}

	res := AnalysisResult{TotalDocuments: len(envs), CorruptedIDs: []string{}}
	for _, env := range envs {
		if env.Corrupted {
			res.Flagged++
		}
		if encryption.CheckStructure(env.EncryptedData) != nil {
			res.CorruptedIDs = append(res.CorruptedIDs, env.ID)
		}
	}
	slices.Sort(res.CorruptedIDs)
	res.PotentiallyCorrupted = len(res.CorruptedIDs)
	return res, nil
}

// CleanOptions configures CleanCorruptedMeasurements.
type CleanOptions struct {
	Mode Mode
	// KnownBadIDs are treated as corrupted whatever their structure.
	KnownBadIDs []string
	// Confirmed must be set for ModeDelete.
	Confirmed bool
}

// CleanResult is the outcome of CleanCorruptedMeasurements.
type CleanResult struct {
	Mode       Mode     `json:"mode"`
	Matched    int      `json:"matched"`
	Flagged    int      `json:"flagged"`
	Deleted    int      `json:"deleted"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	MatchedIDs []string `json:"matchedIds"`
}

// CleanCorruptedMeasurements flags or deletes every envelope of userID that
// is listed in KnownBadIDs or fails the structural check. In flag mode,
// envelopes that are already flagged are skipped.
func (t *Tool) CleanCorruptedMeasurements(ctx context.Context, userID string, opts CleanOptions) (CleanResult, error) {
	switch opts.Mode {
	case ModeFlag:
	case ModeDelete:
		if !opts.Confirmed {
			return CleanResult{}, apperr.ErrConfirmationRequired
		}
	default:
		return CleanResult{}, apperr.Invalid("mode", fmt.Sprintf("unknown mode %q", opts.Mode))
	}

	envs, err := t.coll.List(ctx, userID)
	if err != nil {
		return CleanResult{}, fmt.Errorf("list documents: %w", err)
	}

	known := make(map[string]bool, len(opts.KnownBadIDs))
	for _, id := range opts.KnownBadIDs {
		known[id] = true
	}

	res := CleanResult{Mode: opts.Mode, MatchedIDs: []string{}}
	for _, env := range envs {
		if !known[env.ID] && encryption.CheckStructure(env.EncryptedData) == nil {
			continue
		}
		if opts.Mode == ModeFlag && env.Corrupted {
			res.Skipped++
			continue
		}
		res.Matched++
		res.MatchedIDs = append(res.MatchedIDs, env.ID)

		switch opts.Mode {
		case ModeDelete:
			if err := t.coll.Delete(ctx, userID, env.ID); err != nil {
				res.Failed++
				t.log.Warn("failed to delete document", zap.String("id", env.ID), zap.Error(err))
				continue
			}
			res.Deleted++
		case ModeFlag:
			flagged := env
			flagged.Corrupted = true
			if flagged.OriginalEncryptedData == "" {
				flagged.OriginalEncryptedData = env.EncryptedData
			}
			flagged.CorruptedAt = t.now().UnixMilli()
			if err := t.coll.Put(ctx, flagged); err != nil {
				res.Failed++
				t.log.Warn("failed to flag document", zap.String("id", env.ID), zap.Error(err))
				continue
			}
			res.Flagged++
		}
	}

	t.log.Info("clean finished",
		zap.String("mode", string(opts.Mode)),
		zap.Int("matched", res.Matched),
		zap.Int("flagged", res.Flagged),
		zap.Int("deleted", res.Deleted),
		zap.Int("failed", res.Failed))
	return res, nil
}

// RepairResult is the outcome of ScanAndRepairCorruptedDocuments.
type RepairResult struct {
	Scanned     int      `json:"scanned"`
	Repaired    int      `json:"repaired"`
	Failed      int      `json:"failed"`
	RepairedIDs []string `json:"repairedIds"`
	FailedIDs   []string `json:"failedIds"`
}

// ScanAndRepairCorruptedDocuments tries to recover every flagged envelope of
// userID with the current key, then the legacy keys, then candidateKey when
// given. A recovered envelope is re-encrypted with the current key and its
// flag cleared. An unrecoverable one stays flagged with its attempt counter
// incremented.
func (t *Tool) ScanAndRepairCorruptedDocuments(ctx context.Context, userID, candidateKey string) (RepairResult, error) {
	if candidateKey != "" {
		if err := encryption.ValidateKey(candidateKey); err != nil {
			return RepairResult{}, apperr.Invalid("candidate key", err.Error())
		}
	}
	envs, err := t.coll.List(ctx, userID)
	if err != nil {
		return RepairResult{}, fmt.Errorf("list documents: %w", err)
	}

	res := RepairResult{RepairedIDs: []string{}, FailedIDs: []string{}}
	for _, env := range envs {
		if !env.Corrupted {
			continue
		}
		res.Scanned++

		repaired, err := t.recover(env, candidateKey)
		if err != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, env.ID)
			t.log.Warn("document not recoverable",
				zap.String("id", env.ID),
				zap.Int("attempts", env.RepairAttempts+1),
				zap.Error(err))
			env.RepairAttempts++
			if perr := t.coll.Put(ctx, env); perr != nil {
				t.log.Warn("failed to record repair attempt", zap.String("id", env.ID), zap.Error(perr))
			}
			continue
		}
		if err := t.coll.Put(ctx, repaired); err != nil {
			res.Failed++
			res.FailedIDs = append(res.FailedIDs, env.ID)
			t.log.Warn("failed to store repaired document", zap.String("id", env.ID), zap.Error(err))
			continue
		}
		res.Repaired++
		res.RepairedIDs = append(res.RepairedIDs, env.ID)
	}

	t.log.Info("repair finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("repaired", res.Repaired),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (t *Tool) recover(env models.Envelope, candidateKey string) (models.Envelope, error) {
	source := env.OriginalEncryptedData
	if source == "" {
		source = env.EncryptedData
	}
	if err := encryption.CheckStructure(source); err != nil {
		return models.Envelope{}, err
	}

	plain, err := t.keys.DecryptWithCandidate(source, candidateKey)
	if err != nil {
		var decErr *apperr.DecryptionError
		if errors.As(err, &decErr) {
			return models.Envelope{}, &apperr.DecryptionError{ID: env.ID, Attempts: decErr.Attempts}
		}
		return models.Envelope{}, err
	}
	m, err := remote.Unseal(env, plain)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("decrypted payload: %w", err)
	}

	fresh, err := remote.Seal(t.keys, env.UserID, m)
	if err != nil {
		return models.Envelope{}, err
	}
	fresh.RepairedAt = t.now().UnixMilli()
	return fresh, nil
}
