package types

import "time"

// OutcomeKind classifies what a tap led to.
type OutcomeKind int

const (
	// OutcomeUnregistered: the UID has no registration. The front-end may
	// offer to register the tag.
	OutcomeUnregistered OutcomeKind = iota

	// OutcomeInactive: the tag is registered but disabled. The front-end
	// may offer to re-activate it.
	OutcomeInactive

	// OutcomeTamper: the tag's content does not match the credential bound
	// to its registration. The front-end may offer to re-register it.
	OutcomeTamper

	// OutcomeEmployeeArmed: an employee tap opened (or replaced) the
	// checkout window.
	OutcomeEmployeeArmed

	// OutcomeEmployeeDisarmed: the same employee tapped again inside the
	// window and cancelled it.
	OutcomeEmployeeDisarmed

	// OutcomeKeyCheckedOut: a key left the office under the armed
	// employee's name.
	OutcomeKeyCheckedOut

	// OutcomeKeyCheckedIn: a key came back.
	OutcomeKeyCheckedIn

	// OutcomeCheckoutFailed: a key tap wanted a checkout but was refused;
	// Reason says why.
	OutcomeCheckoutFailed

	// OutcomeCheckinWait: the key came back inside the anti-tailgating
	// cooldown; Wait is the remaining time.
	OutcomeCheckinWait

	// OutcomeInconsistent: storage returned something the state machine
	// rules out. Reported to the operator, never acted on.
	OutcomeInconsistent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnregistered:
		return "unregistered"
	case OutcomeInactive:
		return "inactive"
	case OutcomeTamper:
		return "tamper"
	case OutcomeEmployeeArmed:
		return "employee-armed"
	case OutcomeEmployeeDisarmed:
		return "employee-disarmed"
	case OutcomeKeyCheckedOut:
		return "key-checked-out"
	case OutcomeKeyCheckedIn:
		return "key-checked-in"
	case OutcomeCheckoutFailed:
		return "checkout-failed"
	case OutcomeCheckinWait:
		return "checkin-wait"
	case OutcomeInconsistent:
		return "inconsistent"
	}
	return "unknown"
}

// Outcome is the result of processing one tap. Kind is always set; the
// remaining fields are filled as far as the tap got through the state
// machine.
type Outcome struct {
	Kind OutcomeKind
	UID  int64

	// Role is set once the tag was classified.
	Role Role

	// EmployeeUID and ExpiresAt describe the armed session, set on
	// employee outcomes and on a successful key checkout.
	EmployeeUID int64
	ExpiresAt   time.Time

	// Reason explains a refusal or inconsistency, suitable for display.
	Reason string

	// Wait is the remaining cooldown on OutcomeCheckinWait.
	Wait time.Duration
}

// WaitSeconds reports the remaining cooldown rounded up to whole seconds,
// which is how the front-end displays it.
func (o Outcome) WaitSeconds() int {
	return int((o.Wait + time.Second - 1) / time.Second)
}
