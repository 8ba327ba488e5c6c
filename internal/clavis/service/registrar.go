package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pkarsten/clavis/internal/clavis/crypto"
	"github.com/pkarsten/clavis/internal/clavis/types"
	"github.com/pkarsten/clavis/internal/reader"
)

const (
	// DefaultWriteAttempts is how many write-then-verify rounds a
	// registration gets before it fails.
	DefaultWriteAttempts = 5

	// DefaultWriteBackoff is the pause between rounds.
	DefaultWriteBackoff = 500 * time.Millisecond
)

// ErrLabelRequired: registration was attempted with an empty label.
var ErrLabelRequired = errors.New("a label is required to register a tag")

// WriteVerifyError is the terminal failure of a registration's
// write-then-verify round trip. The database binding was already
// persisted when this is returned, so the tag reports tamper until a
// re-registration succeeds.
type WriteVerifyError struct {
	UID      int64
	Attempts int
}

func (e *WriteVerifyError) Error() string {
	return fmt.Sprintf("tag %d: write not verified after %d attempts", e.UID, e.Attempts)
}

// RegistrarConfig holds the retry policy for NewRegistrar. Zero values
// fall back to the defaults.
type RegistrarConfig struct {
	// WriteAttempts is how many write-then-verify rounds to try.
	// Defaults to 5.
	WriteAttempts int

	// WriteBackoff is the pause between rounds. Defaults to 500ms.
	WriteBackoff time.Duration
}

// Registrar binds a fresh credential to a physical tag: it encrypts the
// label, persists the binding, writes the credential onto the tag, and
// reads it back to prove the write took. It never reports success
// without that verified round trip.
type Registrar struct {
	dir      *TagDirectory
	cipher   *crypto.LabelCipher
	reader   reader.Reader
	logger   *logrus.Logger
	attempts int
	backoff  time.Duration
}

func NewRegistrar(dir *TagDirectory, cipher *crypto.LabelCipher, rdr reader.Reader, cfg RegistrarConfig, logger *logrus.Logger) *Registrar {
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = DefaultWriteAttempts
	}
	if cfg.WriteBackoff <= 0 {
		cfg.WriteBackoff = DefaultWriteBackoff
	}
	return &Registrar{
		dir:      dir,
		cipher:   cipher,
		reader:   rdr,
		logger:   logger,
		attempts: cfg.WriteAttempts,
		backoff:  cfg.WriteBackoff,
	}
}

// Register binds uid to a fresh credential under the given role and
// label, returning the credential that ended up on the tag. The caller
// keeps the tag on the reader for the duration: the write and the
// verifying read both need it present.
//
// Registering a uid that already has a registration overwrites it; the
// old credential's label record stays behind for the ledger rows that
// reference it.
func (r *Registrar) Register(ctx context.Context, uid int64, role types.Role, label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", ErrLabelRequired
	}

	encrypted, err := r.cipher.Encrypt(label)
	if err != nil {
		return "", fmt.Errorf("encrypt label: %w", err)
	}

	// uuid4 rendered as 32 hex chars, the fixed-width token the readers
	// expect on a tag.
	credentialID := strings.ReplaceAll(uuid.NewString(), "-", "")

	// Persist before touching the tag. If the write below never
	// verifies, the next tap of this tag reports tamper and the operator
	// re-registers; a verified tag with no database row would be worse.
	if err := r.dir.RegisterOrOverwrite(ctx, uid, role, credentialID, encrypted); err != nil {
		return "", err
	}

	if err := r.writeVerify(ctx, uid, credentialID); err != nil {
		return "", err
	}

	r.logger.WithFields(logrus.Fields{"uid": uid, "role": role.String()}).Info("tag registered")
	return credentialID, nil
}

// writeVerify drives the bounded write-then-verify loop. Each round
// writes the credential and reads the tag back; only an exact
// (uid, credential) match counts. Rounds that fail for any reason are
// retried after the backoff until the attempt budget runs out.
func (r *Registrar) writeVerify(ctx context.Context, uid int64, credentialID string) error {
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}

		if err := r.reader.Write(credentialID); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{"uid": uid, "attempt": attempt}).
				Warn("tag write failed, keep the tag on the reader")
			continue
		}

		gotUID, gotContent, err := r.reader.Read()
		if err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{"uid": uid, "attempt": attempt}).
				Warn("verify read failed, keep the tag on the reader")
			continue
		}

		if gotUID == uid && strings.TrimSpace(gotContent) == credentialID {
			return nil
		}

		r.logger.WithFields(logrus.Fields{"uid": uid, "readUID": gotUID, "attempt": attempt}).
			Warn("verify read does not match, keep the tag on the reader")
	}

	return &WriteVerifyError{UID: uid, Attempts: r.attempts}
}
