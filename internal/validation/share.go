// Package validation re-checks solutions on the host before they are
// submitted. An engine reporting a nonce that does not hash under the
// target is a hardware error, and the share never reaches the pool.
package validation

import (
	"encoding/binary"
	"strconv"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/engine/cpu"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
)

// ShareValidator re-hashes found nonces with the host implementation
type ShareValidator struct {
	desc          *algo.Descriptor
	hash          cpu.HashFunc
	minDifficulty float64
}

// NewShareValidator creates a validator for d. Shares below minDiff are
// refused even when they meet the item target; zero disables the floor.
func NewShareValidator(d *algo.Descriptor, minDiff float64) (*ShareValidator, error) {
	h, err := cpu.Hasher(d)
	if err != nil {
		return nil, err
	}
	return &ShareValidator{desc: d, hash: h, minDifficulty: minDiff}, nil
}

// ValidateShare checks solution idx of w and returns its share
// difficulty as computed on the host
func (v *ShareValidator) ValidateShare(w *work.Item, idx int) (float64, error) {
	if err := v.validateBasicFields(w, idx); err != nil {
		return 0, err
	}

	diff, err := v.validateProofOfWork(w, w.Nonces[idx])
	if err != nil {
		return 0, err
	}

	if err := v.validateDifficulty(diff); err != nil {
		return 0, err
	}
	return diff, nil
}

func (v *ShareValidator) validateBasicFields(w *work.Item, idx int) error {
	if idx < 0 || idx >= w.ValidNonces {
		return errors.New(errors.ErrorTypeInternal, "validation", "no solution at index "+strconv.Itoa(idx))
	}
	if w.Empty() {
		return errors.New(errors.ErrorTypeInternal, "validation", "solution on an empty item")
	}

	n := w.Nonces[idx]
	if n < w.ScannedFrom || n > w.ScannedTo {
		return errors.New(errors.ErrorTypeInternal, "validation", "nonce outside the scanned range").
			WithContext("nonce", n).
			WithContext("from", w.ScannedFrom).
			WithContext("to", w.ScannedTo)
	}
	return nil
}

func (v *ShareValidator) validateProofOfWork(w *work.Item, nonce uint32) (float64, error) {
	d := v.desc
	header := w.HeaderBytes(d)
	off := d.NonceWord * 4
	if d.LittleEndian {
		binary.LittleEndian.PutUint32(header[off:], nonce)
	} else {
		binary.BigEndian.PutUint32(header[off:], nonce)
	}

	h := v.hash(header)
	if !cpu.MeetsTarget(h, &w.Target) {
		return 0, errors.New(errors.ErrorTypeInternal, "validation", "result does not validate on CPU").
			WithContext("nonce", nonce).
			WithContext("job_id", w.JobID)
	}
	return assembler.HashDiff(h), nil
}

func (v *ShareValidator) validateDifficulty(diff float64) error {
	if v.minDifficulty > 0 && diff < v.minDifficulty {
		return errors.New(errors.ErrorTypeInternal, "validation", "share difficulty below floor").
			WithContext("share_diff", diff).
			WithContext("min_diff", v.minDifficulty)
	}
	return nil
}

// IsBlockCandidate reports whether a share of shareDiff also solves the
// block at netDiff
func IsBlockCandidate(shareDiff, netDiff float64) bool {
	return netDiff > 0 && shareDiff >= netDiff
}
