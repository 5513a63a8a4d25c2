package workflow

import "github.com/warp/clockd/generic"

// transitions lists every allowed status change. APPROVED has no way out:
// unlocking approved entries is not supported.
var transitions = map[generic.EntryStatus][]generic.EntryStatus{
	generic.StatusDraft:     {generic.StatusSubmitted},
	generic.StatusSubmitted: {generic.StatusApproved, generic.StatusRejected},
	generic.StatusRejected:  {generic.StatusSubmitted},
}

// CanTransition reports whether from -> to is a legal workflow move.
func CanTransition(from, to generic.EntryStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Editable reports whether the owner may still change an entry's content
// in status s (DRAFT via SaveDraft, REJECTED via ReviseRejected).
func Editable(s generic.EntryStatus) bool {
	return s == generic.StatusDraft || s == generic.StatusRejected
}
