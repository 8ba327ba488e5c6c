// Package kiosk is the interactive front-end: it pumps taps from the
// reader through the engine, renders each outcome for the operator, and
// walks them through the registration and re-activation decisions the
// engine deliberately defers.
package kiosk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pkarsten/clavis/internal/clavis/service"
	"github.com/pkarsten/clavis/internal/clavis/types"
	"github.com/pkarsten/clavis/internal/reader"
)

// DefaultDebounce is the pause after each processed tap, so one physical
// tap is not read twice.
const DefaultDebounce = time.Second

type Dependencies struct {
	Logger    *logrus.Logger
	Reader    reader.Reader
	Engine    *service.Engine
	Registrar *service.Registrar
	Directory *service.TagDirectory

	// In and Out are the operator's terminal. When the Reader is a
	// console simulator on the same terminal, In must be the same
	// bufio.Reader the simulator reads taps from.
	In  *bufio.Reader
	Out io.Writer

	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

type Kiosk struct {
	logger    *logrus.Logger
	reader    reader.Reader
	engine    *service.Engine
	registrar *service.Registrar
	directory *service.TagDirectory
	in        *bufio.Reader
	out       io.Writer
	debounce  time.Duration
}

func New(d Dependencies) *Kiosk {
	if d.Debounce <= 0 {
		d.Debounce = DefaultDebounce
	}
	return &Kiosk{
		logger:    d.Logger,
		reader:    d.Reader,
		engine:    d.Engine,
		registrar: d.Registrar,
		directory: d.Directory,
		in:        d.In,
		out:       d.Out,
		debounce:  d.Debounce,
	}
}

// Run blocks on the reader, processes each tap, and repeats until the
// context is cancelled, the input ends, or the reader fails. A pending
// blocking read cannot be interrupted; on cancellation it is simply
// abandoned with the process.
func (k *Kiosk) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		fmt.Fprintln(k.out, "Place a tag on the reader...")
		uid, content, err := k.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read tag: %w", err)
		}

		outcome, err := k.engine.HandleTap(ctx, types.TagEvent{UID: uid, Content: content})
		if err != nil {
			// Storage trouble. The tap is lost; the loop keeps going so a
			// recovered database picks right back up.
			k.logger.WithError(err).WithField("uid", uid).Error("tap not processed")
			fmt.Fprintln(k.out, "Something went wrong and the tap was not processed. Try again.")
		} else {
			k.render(outcome)
			k.followUp(ctx, outcome)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(k.debounce):
		}
	}
}

func (k *Kiosk) render(o types.Outcome) {
	switch o.Kind {
	case types.OutcomeUnregistered:
		fmt.Fprintf(k.out, "Tag %d is not registered.\n", o.UID)
	case types.OutcomeInactive:
		fmt.Fprintf(k.out, "Tag %d is inactive.\n", o.UID)
	case types.OutcomeTamper:
		fmt.Fprintf(k.out, "Tag %d does not carry its registered content. Possible tampering.\n", o.UID)
	case types.OutcomeEmployeeArmed:
		fmt.Fprintf(k.out, "Employee tag %d armed. Checkout window open until %s.\n",
			o.EmployeeUID, o.ExpiresAt.Local().Format("15:04:05"))
	case types.OutcomeEmployeeDisarmed:
		fmt.Fprintln(k.out, "Checkout session cancelled.")
	case types.OutcomeKeyCheckedOut:
		fmt.Fprintf(k.out, "Key %d checked out. It can be checked back in after %d seconds.\n",
			o.UID, o.WaitSeconds())
	case types.OutcomeKeyCheckedIn:
		fmt.Fprintf(k.out, "Key %d checked in.\n", o.UID)
	case types.OutcomeCheckoutFailed:
		fmt.Fprintf(k.out, "Checkout failed: %s.\n", o.Reason)
		if o.Reason == service.ErrNoActiveSession.Error() || o.Reason == service.ErrSessionExpired.Error() {
			fmt.Fprintln(k.out, "Tap your employee tag, then tap the key within the checkout window.")
		}
	case types.OutcomeCheckinWait:
		fmt.Fprintf(k.out, "Key %d cannot be checked in yet. Wait %d seconds.\n",
			o.UID, o.WaitSeconds())
	case types.OutcomeInconsistent:
		fmt.Fprintf(k.out, "Tag %d hit an inconsistent state (%s). Contact the administrator.\n",
			o.UID, o.Reason)
	}
}

// followUp offers the operator the action a reported tap allows:
// registration for unknown or tampered tags, re-activation for inactive
// ones. Declining, or input running out, leaves everything untouched;
// the engine never takes these actions by itself.
func (k *Kiosk) followUp(ctx context.Context, o types.Outcome) {
	switch o.Kind {
	case types.OutcomeUnregistered:
		if k.confirm("Register this tag?") {
			k.registerFlow(ctx, o.UID)
		} else {
			fmt.Fprintln(k.out, "Ignoring unregistered tag.")
		}

	case types.OutcomeInactive:
		if !k.confirm("Re-activate this tag?") {
			fmt.Fprintln(k.out, "Ignoring inactive tag.")
			return
		}
		if err := k.directory.Activate(ctx, o.UID); err != nil {
			k.logger.WithError(err).WithField("uid", o.UID).Error("re-activation failed")
			fmt.Fprintln(k.out, "Re-activation failed. Try again.")
			return
		}
		fmt.Fprintf(k.out, "Tag %d re-activated.\n", o.UID)

	case types.OutcomeTamper:
		if k.confirm("Re-register this tag?") {
			k.registerFlow(ctx, o.UID)
		} else {
			fmt.Fprintln(k.out, "Ignoring tag.")
		}
	}
}

// registerFlow collects role and label from the operator and runs the
// registration protocol.
func (k *Kiosk) registerFlow(ctx context.Context, uid int64) {
	choice, err := k.prompt("Select tag type:", "Employee tag", "Key tag")
	if err != nil {
		fmt.Fprintln(k.out, "Registration aborted.")
		return
	}
	role := types.RoleEmployee
	if choice == 2 {
		role = types.RoleKey
	}

	label, err := k.readLine("Enter the name or identifier for this tag: ")
	if err != nil {
		fmt.Fprintln(k.out, "Registration aborted.")
		return
	}

	fmt.Fprintln(k.out, "Tap the tag again to finalize the registration...")
	_, err = k.registrar.Register(ctx, uid, role, label)

	var wv *service.WriteVerifyError
	switch {
	case errors.Is(err, service.ErrLabelRequired):
		fmt.Fprintln(k.out, "No label provided. Registration aborted.")
	case errors.As(err, &wv):
		fmt.Fprintf(k.out, "The tag could not be verified after %d attempts. Re-register it when it is back on the reader.\n", wv.Attempts)
	case err != nil:
		k.logger.WithError(err).WithField("uid", uid).Error("registration failed")
		fmt.Fprintln(k.out, "Registration failed. Try again.")
	default:
		fmt.Fprintf(k.out, "Tag %d is now registered.\n", uid)
	}
}
