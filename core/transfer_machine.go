package core

import "time"

type transferEdge struct {
	from TransferState
	to   TransferState
	// originator narrows the message originator for this edge only.
	originator Role
}

var transferEdges = map[MessageKind][]transferEdge{
	KindTransferRequest: {{from: "", to: TransferRequested}},
	KindTransferStart: {
		{from: TransferRequested, to: TransferStarted, originator: RoleProvider},
		{from: TransferSuspended, to: TransferStarted},
	},
	KindTransferSuspension: {{from: TransferStarted, to: TransferSuspended}},
	KindTransferCompletion: {{from: TransferStarted, to: TransferCompleted}},
}

var transferRank = map[TransferState]int{
	TransferRequested: 0,
	TransferStarted:   1,
	TransferSuspended: 1,
	TransferCompleted: 2,
}

func transferTarget(kind MessageKind) TransferState {
	switch kind {
	case KindTransferTermination, KindProcessFailed:
		return TransferTerminated
	}
	edges := transferEdges[kind]
	if len(edges) == 0 {
		return ""
	}
	return edges[0].to
}

func transferEdgeFor(current TransferState, kind MessageKind) (transferEdge, bool) {
	switch kind {
	case KindTransferTermination, KindProcessFailed:
		if current.Terminal() {
			return transferEdge{}, false
		}
		return transferEdge{from: current, to: TransferTerminated}, true
	}
	for _, edge := range transferEdges[kind] {
		if edge.from != "" && edge.from == current {
			return edge, true
		}
	}
	return transferEdge{}, false
}

func transferReplayed(current TransferState, target TransferState) bool {
	currentRank, ok := transferRank[current]
	if !ok {
		return false
	}
	targetRank, ok := transferRank[target]
	if !ok {
		return false
	}
	return targetRank < currentRank
}

// ApplyTransfer is the single transition function of transfer processes.
// STARTED and SUSPENDED may alternate any number of times; every other edge
// moves forward only.
func ApplyTransfer(rec TransferProcess, ev Event, now time.Time) (TransferProcess, *OutboundMessage, error) {
	spec, err := validateEvent(ProcessTransfer, ev)
	if err != nil {
		return rec, nil, err
	}
	if err := checkOriginator(rec.Role, spec.originator, ev); err != nil {
		return rec, nil, err
	}

	target := transferTarget(ev.Kind)
	if target == "" {
		return rec, nil, invalidTransition("%s has no transfer target", ev.Kind)
	}
	if rec.State == target {
		return rec, nil, nil
	}
	if rec.State.Terminal() {
		return rec, nil, terminated(string(rec.State))
	}
	edge, ok := transferEdgeFor(rec.State, ev.Kind)
	if !ok {
		if transferReplayed(rec.State, target) {
			return rec, nil, nil
		}
		return rec, nil, invalidTransition("%s cannot move transfer from %s to %s", ev.Kind, rec.State, target)
	}
	if err := checkOriginator(rec.Role, edge.originator, ev); err != nil {
		return rec, nil, err
	}
	if err := checkPendingSlot(rec.ProcessBase, spec, ev); err != nil {
		return rec, nil, err
	}

	next := rec.Clone()
	next.State = target
	if ev.Kind == KindTransferStart && len(ev.DataAddress) > 0 {
		next.DataAddress = cloneRaw(ev.DataAddress)
	}
	outbound := stamp(&next.ProcessBase, spec, ev, target.Terminal(), now)
	return next, outbound, nil
}
