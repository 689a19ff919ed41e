// Package eligibility decides whether a voice message may be transcribed,
// from where the message came from and what its senders agreed to.
// Decisions are pure: the only input read from outside is the Directory lookup
// for the original sender of a forwarded message.
package eligibility

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownUser is returned by a Directory for users it has no record of.
var ErrUnknownUser = errors.New("unknown user")

// Origin describes who originally sent a voice message.
type Origin int

const (
	// OriginDirect - Sent by the requester, not forwarded.
	OriginDirect Origin = iota
	// OriginHidden - Forwarded; the original sender hides their account.
	OriginHidden
	// OriginBot - Forwarded from a bot account.
	OriginBot
	// OriginUser - Forwarded from a visible human account.
	OriginUser
)

// String returns the string representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginDirect:
		return "direct"
	case OriginHidden:
		return "hidden"
	case OriginBot:
		return "bot"
	case OriginUser:
		return "user"
	default:
		return fmt.Sprintf("unknown(%d)", o)
	}
}

// Forwarded reports whether the origin is a forward.
func (o Origin) Forwarded() bool {
	return o != OriginDirect
}

// Provenance is where a message came from.
type Provenance struct {
	Origin Origin
	// OriginUserID is set for OriginUser only.
	OriginUserID int64
}

// Subject is the consent state of one user.
type Subject struct {
	Consented bool
	Superuser bool
}

// Directory looks up stored consent.
type Directory interface {
	// Subject returns ErrUnknownUser when the user has no record.
	Subject(ctx context.Context, userID int64) (Subject, error)
}

// Reason explains a Decision.
type Reason int

const (
	ReasonChatOverride Reason = iota
	ReasonSenderConsented
	ReasonSenderNotConsented
	ReasonHiddenSender
	ReasonOriginIsBot
	ReasonOriginConsented
	ReasonOriginNotConsented
	ReasonOriginUnknown
	ReasonPrivileged
)

// String returns a stable snake_case name, used as a metrics label.
func (r Reason) String() string {
	switch r {
	case ReasonChatOverride:
		return "chat_override"
	case ReasonSenderConsented:
		return "sender_consented"
	case ReasonSenderNotConsented:
		return "sender_not_consented"
	case ReasonHiddenSender:
		return "hidden_sender"
	case ReasonOriginIsBot:
		return "origin_is_bot"
	case ReasonOriginConsented:
		return "origin_consented"
	case ReasonOriginNotConsented:
		return "origin_not_consented"
	case ReasonOriginUnknown:
		return "origin_unknown"
	case ReasonPrivileged:
		return "privileged"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Allow  bool
	Reason Reason
}

func (d Decision) String() string {
	if d.Allow {
		return "allow: " + d.Reason.String()
	}
	return "deny: " + d.Reason.String()
}

func allow(r Reason) Decision { return Decision{Allow: true, Reason: r} }
func deny(r Reason) Decision  { return Decision{Allow: false, Reason: r} }

// Scopes, used to label decisions.
const (
	ScopeGroup          = "group"
	ScopePrivate        = "private"
	ScopePrivateForward = "private_forward"
)

// GroupInput is everything a group-chat decision depends on.
type GroupInput struct {
	IgnoreConsent bool
	Sender        Subject
	Provenance    Provenance
}

// PrivateInput is everything a private-chat decision depends on.
type PrivateInput struct {
	// Admin is true when the requester is a bot administrator.
	Admin      bool
	Requester  Subject
	Provenance Provenance
}

// Evaluator applies the eligibility rules.
type Evaluator struct {
	directory Directory
}

// New creates an evaluator reading forwarded-sender consent from dir.
func New(dir Directory) *Evaluator {
	return &Evaluator{directory: dir}
}

// Group evaluates a voice message in a group chat:
//
//  1. the chat ignores consent checks: allow
//  2. direct message, sender has not consented: deny
//  3. forwarded, original sender hidden: allow (cannot attribute)
//  4. forwarded from a bot: allow (bots cannot opt out)
//  5. forwarded from a visible user: allow only if their stored consent says so
//  6. direct message, sender consented: allow
func (e *Evaluator) Group(ctx context.Context, in GroupInput) (Decision, error) {
	if in.IgnoreConsent {
		return allow(ReasonChatOverride), nil
	}

	switch in.Provenance.Origin {
	case OriginDirect:
		if !in.Sender.Consented {
			return deny(ReasonSenderNotConsented), nil
		}
		return allow(ReasonSenderConsented), nil
	case OriginHidden:
		return allow(ReasonHiddenSender), nil
	case OriginBot:
		return allow(ReasonOriginIsBot), nil
	case OriginUser:
		return e.origin(ctx, in.Provenance.OriginUserID)
	default:
		return Decision{}, fmt.Errorf("unexpected origin: %v", in.Provenance.Origin)
	}
}

// Private evaluates a voice message in a private chat. A direct message needs
// the requester's consent. For forwards, bot administrators and superusers
// bypass every check; a hidden original sender is denied, the opposite of the
// group rule; a bot original sender is allowed; a visible one is looked up.
func (e *Evaluator) Private(ctx context.Context, in PrivateInput) (Decision, error) {
	if !in.Provenance.Origin.Forwarded() {
		if !in.Requester.Consented {
			return deny(ReasonSenderNotConsented), nil
		}
		return allow(ReasonSenderConsented), nil
	}

	if in.Admin || in.Requester.Superuser {
		return allow(ReasonPrivileged), nil
	}

	switch in.Provenance.Origin {
	case OriginHidden:
		return deny(ReasonHiddenSender), nil
	case OriginBot:
		return allow(ReasonOriginIsBot), nil
	case OriginUser:
		return e.origin(ctx, in.Provenance.OriginUserID)
	default:
		return Decision{}, fmt.Errorf("unexpected origin: %v", in.Provenance.Origin)
	}
}

func (e *Evaluator) origin(ctx context.Context, userID int64) (Decision, error) {
	subject, err := e.directory.Subject(ctx, userID)
	if errors.Is(err, ErrUnknownUser) {
		return deny(ReasonOriginUnknown), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup original sender %d: %w", userID, err)
	}
	if !subject.Consented {
		return deny(ReasonOriginNotConsented), nil
	}
	return allow(ReasonOriginConsented), nil
}
