package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Origin string

const (
	// OriginLocal marks a command issued by this participant.
	OriginLocal Origin = "local"
	// OriginRemote marks a message received from the counterparty.
	OriginRemote Origin = "remote"
)

// Event is the tagged input of both state machines.
type Event struct {
	Kind        MessageKind
	Origin      Origin
	Payload     json.RawMessage
	DataAddress json.RawMessage
	Reason      string
	// MessageID names the outbound message; generated when empty.
	MessageID string
}

func LocalEvent(kind MessageKind) Event {
	return Event{Kind: kind, Origin: OriginLocal}
}

func RemoteEvent(kind MessageKind) Event {
	return Event{Kind: kind, Origin: OriginRemote}
}

func checkOriginator(recordRole Role, originator Role, ev Event) error {
	if originator == "" {
		return nil
	}
	switch ev.Origin {
	case OriginLocal:
		if recordRole != originator {
			return invalidTransition("%s may only be issued by the %s, record role is %s", ev.Kind, originator, recordRole)
		}
	case OriginRemote:
		if recordRole != originator.Counter() {
			return invalidTransition("%s may only be received by the %s, record role is %s", ev.Kind, originator.Counter(), recordRole)
		}
	default:
		return invalidTransition("event origin %q is not supported", ev.Origin)
	}
	return nil
}

func validateEvent(area ProcessKind, ev Event) (messageSpec, error) {
	spec, ok := ev.Kind.spec()
	if !ok {
		return messageSpec{}, malformed("unknown message kind %q", ev.Kind)
	}
	if spec.area != "" && spec.area != area {
		return messageSpec{}, malformed("%s does not apply to %s processes", ev.Kind, area)
	}
	if spec.internal && ev.Origin != OriginLocal {
		return messageSpec{}, malformed("%s cannot be received from a counterparty", ev.Kind)
	}
	return spec, nil
}

// checkPendingSlot rejects a local wire event while an earlier outbound
// message is still undelivered. Only a termination may replace it.
func checkPendingSlot(base ProcessBase, spec messageSpec, ev Event) error {
	if spec.internal || ev.Origin != OriginLocal || ev.Kind.IsTermination() {
		return nil
	}
	if base.Pending == nil || base.Pending.Kind.IsTermination() {
		return nil
	}
	return invalidTransition("outbound message pending: %s has not been acknowledged", base.Pending.Kind)
}

// stamp applies the bookkeeping shared by every successful transition.
// Local wire events queue exactly one outbound message. checkPendingSlot
// guarantees only a termination replaces an undelivered one; internal events
// clear it.
func stamp(base *ProcessBase, spec messageSpec, ev Event, terminal bool, now time.Time) *OutboundMessage {
	base.StateTimestamp = now
	base.UpdatedAt = now

	if spec.internal {
		base.Pending = nil
		base.NextAttemptAt = time.Time{}
		if reason := strings.TrimSpace(ev.Reason); reason != "" {
			base.ErrorDetail = reason
		}
		return nil
	}
	if ev.Kind.IsTermination() {
		if reason := strings.TrimSpace(ev.Reason); reason != "" {
			base.ErrorDetail = reason
		}
	}
	if ev.Origin != OriginLocal {
		if terminal && base.Pending != nil && !base.Pending.Kind.IsTermination() {
			base.Pending = nil
			base.NextAttemptAt = time.Time{}
		}
		return nil
	}

	outbound := newOutbound(ev, now)
	base.Pending = outbound
	base.RetryCount = 0
	base.NextAttemptAt = now
	if !ev.Kind.IsTermination() {
		base.ErrorDetail = ""
	}
	copied := *outbound
	copied.Payload = cloneRaw(outbound.Payload)
	return &copied
}

func newOutbound(ev Event, now time.Time) *OutboundMessage {
	id := strings.TrimSpace(ev.MessageID)
	if id == "" {
		id = uuid.NewString()
	}
	return &OutboundMessage{
		ID:        id,
		Kind:      ev.Kind,
		Payload:   cloneRaw(ev.Payload),
		Reason:    strings.TrimSpace(ev.Reason),
		CreatedAt: now,
	}
}
