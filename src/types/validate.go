package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/notarius/notarius/src/common"
	"github.com/notarius/notarius/src/crypto"
)

// Rejection reasons for client submissions. These are client errors: they are
// reported synchronously to the submitter and never retried by the system.
var (
	// ErrBadDigest signals a content hash that is not a well-formed digest.
	ErrBadDigest = errors.New("malformed content hash")

	// ErrBadPublicKey signals an undecodable submitter public key.
	ErrBadPublicKey = errors.New("malformed submitter public key")

	// ErrBadSignature signals a signature that does not verify.
	ErrBadSignature = errors.New("invalid signature")

	// ErrClockSkew signals a submission time outside the accepted window.
	ErrClockSkew = errors.New("submission time outside clock-skew window")

	// ErrDuplicate signals a content hash already recorded or pending.
	ErrDuplicate = errors.New("duplicate content hash")
)

// IsRejection reports whether err is one of the client rejection reasons, as
// opposed to an internal error.
func IsRejection(err error) bool {
	return errors.Is(err, ErrBadDigest) ||
		errors.Is(err, ErrBadPublicKey) ||
		errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrClockSkew) ||
		errors.Is(err, ErrDuplicate)
}

// Validate runs the stateless per-transaction checks, in order: digest form,
// public key, signature, and clock-skew window. The seen callback answers
// duplicate lookups against the committed ledger and the pending batch; it is
// supplied by the caller because validation itself mutates nothing.
//
// The content hash must be in canonical form: 0X prefix, uppercase hex. Hex
// decoding is case-insensitive, so accepting other spellings of the same
// digest would let one document register twice under two keys. ContentHash is
// under the submitter signature and cannot be rewritten here, hence the
// rejection.
func (tx *Transaction) Validate(now time.Time, skew time.Duration, seen func(contentHash string) bool) error {
	digest, err := common.DecodeFromString(tx.ContentHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadDigest, err)
	}
	if len(digest) != crypto.DigestLength {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrBadDigest, len(digest), crypto.DigestLength)
	}
	if tx.ContentHash != common.EncodeToString(digest) {
		return fmt.Errorf("%w: not in canonical form", ErrBadDigest)
	}

	if _, err := common.DecodeFromString(tx.Submitter); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}

	ok, err := tx.Verify()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ok {
		return ErrBadSignature
	}

	submitted := time.Unix(0, tx.SubmissionTime)
	if submitted.After(now.Add(skew)) {
		return fmt.Errorf("%w: %v ahead of local clock", ErrClockSkew, submitted.Sub(now))
	}
	if submitted.Before(now.Add(-skew)) {
		return fmt.Errorf("%w: %v behind local clock", ErrClockSkew, now.Sub(submitted))
	}

	if seen != nil && seen(tx.ContentHash) {
		return ErrDuplicate
	}

	return nil
}
