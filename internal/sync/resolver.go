package sync

import (
	"errors"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
)

// ErrConflictUnresolved marks a manual-policy conflict held for operator
// review. It is a pending state, not a failure: the local change stays
// unsynced and keeps appearing in the pending set.
var ErrConflictUnresolved = errors.New("sync: conflict unresolved, awaiting manual review")

// Outcome says which side of a local/remote pair survives resolution
type Outcome string

const (
	OutcomeLocal  Outcome = "local"
	OutcomeRemote Outcome = "remote"
	OutcomeMerged Outcome = "merged"
	// OutcomeManual defers the pair for explicit operator review. It is
	// a terminal-but-pending state, not an error.
	OutcomeManual Outcome = "manual"
)

// Resolution is the decision for one local/remote change pair
type Resolution struct {
	Outcome    Outcome
	Winner     *models.OfflineChange // nil when Outcome is OutcomeManual
	Conflicted bool
}

// IsConflict reports whether two changes to the same entity actually
// collide. Different operations always conflict. Two updates conflict
// only when a field they both touch carries different values.
func IsConflict(local, remote *models.OfflineChange) bool {
	if local.Operation != remote.Operation {
		return true
	}
	if local.Operation != models.OpUpdate {
		return false
	}
	for field, lv := range local.Payload {
		rv, ok := remote.Payload[field]
		if !ok {
			continue
		}
		if !jsonEqual(lv, rv) {
			return true
		}
	}
	return false
}

// Merge combines two non-conflicting updates field by field: the local
// payload plus every remote field the local side did not touch.
func Merge(local, remote *models.OfflineChange) *models.OfflineChange {
	merged := *local
	merged.Operation = models.OpMerge
	merged.Payload = datatypes.JSONMap{}
	for k, v := range remote.Payload {
		merged.Payload[k] = v
	}
	for k, v := range local.Payload {
		merged.Payload[k] = v
	}
	return &merged
}

// Resolve decides a local/remote pair under the given policy. It is a
// pure function: the same inputs always produce the same resolution, and
// applying a resolved change twice is a no-op because every entity write
// goes through an idempotent upsert.
func Resolve(local, remote *models.OfflineChange, policy models.ConflictPolicy) Resolution {
	if !IsConflict(local, remote) {
		if local.Operation == models.OpUpdate && remote.Operation == models.OpUpdate {
			return Resolution{Outcome: OutcomeMerged, Winner: Merge(local, remote)}
		}
		// Same non-update operation on both sides: the payloads agree,
		// keep local so the pair stays deterministic.
		return Resolution{Outcome: OutcomeLocal, Winner: local}
	}

	switch policy {
	case models.PolicyServerWins:
		return Resolution{Outcome: OutcomeRemote, Winner: remote, Conflicted: true}
	case models.PolicyNewestWins:
		// Ties keep local, so both peers resolve identically.
		if remote.CreatedAt.After(local.CreatedAt) {
			return Resolution{Outcome: OutcomeRemote, Winner: remote, Conflicted: true}
		}
		return Resolution{Outcome: OutcomeLocal, Winner: local, Conflicted: true}
	case models.PolicyManual:
		return Resolution{Outcome: OutcomeManual, Conflicted: true}
	default: // client_wins
		return Resolution{Outcome: OutcomeLocal, Winner: local, Conflicted: true}
	}
}

// jsonEqual compares two decoded JSON values structurally
func jsonEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !jsonEqual(v, w) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
