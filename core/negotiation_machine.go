package core

import "time"

type negotiationEdge struct {
	from NegotiationState
	to   NegotiationState
}

// negotiationEdges lists the main path. Termination and failure are
// reachable from every non-terminal state and are resolved separately.
var negotiationEdges = map[MessageKind]negotiationEdge{
	KindContractRequest:       {from: "", to: NegotiationRequested},
	KindContractOffer:         {from: NegotiationRequested, to: NegotiationOffered},
	KindNegotiationAccepted:   {from: NegotiationOffered, to: NegotiationAccepted},
	KindContractAgreement:     {from: NegotiationAccepted, to: NegotiationAgreed},
	KindAgreementVerification: {from: NegotiationAgreed, to: NegotiationVerified},
	KindNegotiationFinalized:  {from: NegotiationVerified, to: NegotiationFinalized},
	KindTerminationSent:       {from: NegotiationTerminating, to: NegotiationTerminated},
}

var negotiationRank = map[NegotiationState]int{
	NegotiationRequested: 0,
	NegotiationOffered:   1,
	NegotiationAccepted:  2,
	NegotiationAgreed:    3,
	NegotiationVerified:  4,
	NegotiationFinalized: 5,
}

func negotiationTarget(ev Event) NegotiationState {
	switch ev.Kind {
	case KindNegotiationTermination:
		if ev.Origin == OriginLocal {
			return NegotiationTerminating
		}
		return NegotiationTerminated
	case KindProcessFailed:
		return NegotiationTerminated
	default:
		return negotiationEdges[ev.Kind].to
	}
}

func negotiationAdjacent(current NegotiationState, kind MessageKind) bool {
	switch kind {
	case KindNegotiationTermination, KindProcessFailed:
		return !current.Terminal()
	}
	edge, ok := negotiationEdges[kind]
	return ok && edge.from != "" && edge.from == current
}

// negotiationReplayed reports whether target is behind current on the main
// path, which means the message was already applied.
func negotiationReplayed(current NegotiationState, target NegotiationState) bool {
	currentRank, ok := negotiationRank[current]
	if !ok {
		return false
	}
	targetRank, ok := negotiationRank[target]
	if !ok {
		return false
	}
	return targetRank < currentRank
}

// ApplyNegotiation is the single transition function of contract
// negotiations. It never mutates rec. A nil error with a nil outbound and an
// unchanged state means the event was a duplicate.
func ApplyNegotiation(rec ContractNegotiation, ev Event, now time.Time) (ContractNegotiation, *OutboundMessage, error) {
	spec, err := validateEvent(ProcessNegotiation, ev)
	if err != nil {
		return rec, nil, err
	}
	if err := checkOriginator(rec.Role, spec.originator, ev); err != nil {
		return rec, nil, err
	}

	target := negotiationTarget(ev)
	if target == "" {
		return rec, nil, invalidTransition("%s has no negotiation target", ev.Kind)
	}
	if rec.State == target {
		return rec, nil, nil
	}
	if ev.Kind.IsTermination() && rec.State == NegotiationTerminated {
		return rec, nil, nil
	}
	if rec.State.Terminal() {
		return rec, nil, terminated(string(rec.State))
	}
	if !negotiationAdjacent(rec.State, ev.Kind) {
		if negotiationReplayed(rec.State, target) {
			return rec, nil, nil
		}
		return rec, nil, invalidTransition("%s cannot move negotiation from %s to %s", ev.Kind, rec.State, target)
	}
	if err := checkPendingSlot(rec.ProcessBase, spec, ev); err != nil {
		return rec, nil, err
	}

	next := rec.Clone()
	next.State = target
	switch ev.Kind {
	case KindContractRequest, KindContractOffer:
		if len(ev.Payload) > 0 {
			next.Offer = cloneRaw(ev.Payload)
		}
	case KindContractAgreement:
		if len(ev.Payload) > 0 {
			next.Agreement = cloneRaw(ev.Payload)
		}
	}
	outbound := stamp(&next.ProcessBase, spec, ev, target.Terminal(), now)
	return next, outbound, nil
}
