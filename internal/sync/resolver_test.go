package sync

import (
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/transhub/mclocal/internal/models"
)

func change(op models.ChangeOperation, createdAt time.Time, payload datatypes.JSONMap) *models.OfflineChange {
	return &models.OfflineChange{
		EntityType: models.EntityTranslation,
		EntityID:   "entry-1",
		Operation:  op,
		Payload:    payload,
		CreatedAt:  createdAt,
	}
}

func TestResolveDeterminism(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	remote := change(models.OpUpdate, now.Add(time.Minute), datatypes.JSONMap{"new_text": "Hola"})

	first := Resolve(local, remote, models.PolicyNewestWins)
	for i := 0; i < 5; i++ {
		again := Resolve(local, remote, models.PolicyNewestWins)
		if again.Outcome != first.Outcome || again.Conflicted != first.Conflicted {
			t.Fatalf("resolution changed between invocations: %+v vs %+v", first, again)
		}
		if again.Winner != nil && first.Winner != nil && again.Winner.ChangeID != first.Winner.ChangeID {
			t.Fatalf("winner changed between invocations")
		}
	}
}

func TestDisjointUpdatesMerge(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	remote := change(models.OpUpdate, now, datatypes.JSONMap{"status": "reviewed"})

	res := Resolve(local, remote, models.PolicyClientWins)
	if res.Outcome != OutcomeMerged {
		t.Fatalf("expected merge, got %s", res.Outcome)
	}
	if res.Conflicted {
		t.Fatal("disjoint updates must not count as a conflict")
	}
	if res.Winner.Operation != models.OpMerge {
		t.Fatalf("merged change operation = %s, want %s", res.Winner.Operation, models.OpMerge)
	}
	if res.Winner.Payload["new_text"] != "Hallo" || res.Winner.Payload["status"] != "reviewed" {
		t.Fatalf("merged payload missing fields: %v", res.Winner.Payload)
	}
}

func TestMergePrefersLocalOnSharedEqualFields(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo", "status": "translated"})
	remote := change(models.OpUpdate, now, datatypes.JSONMap{"status": "translated", "reviewer": "bot"})

	res := Resolve(local, remote, models.PolicyClientWins)
	if res.Outcome != OutcomeMerged {
		t.Fatalf("equal shared fields should merge, got %s", res.Outcome)
	}
	if res.Winner.Payload["new_text"] != "Hallo" || res.Winner.Payload["reviewer"] != "bot" {
		t.Fatalf("merge lost a side: %v", res.Winner.Payload)
	}
}

func TestOverlappingUpdateServerWins(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	remote := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hola"})

	res := Resolve(local, remote, models.PolicyServerWins)
	if res.Outcome != OutcomeRemote {
		t.Fatalf("server_wins should keep remote, got %s", res.Outcome)
	}
	if !res.Conflicted {
		t.Fatal("overlapping values must count as a conflict")
	}
	if res.Winner.Payload["new_text"] != "Hola" {
		t.Fatalf("winner payload = %v", res.Winner.Payload)
	}
}

func TestOperationMismatchIsConflict(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	remote := change(models.OpDelete, now, nil)

	if !IsConflict(local, remote) {
		t.Fatal("different operations must conflict")
	}

	res := Resolve(local, remote, models.PolicyClientWins)
	if res.Outcome != OutcomeLocal || !res.Conflicted {
		t.Fatalf("client_wins should keep local on conflict, got %+v", res)
	}
}

func TestNewestWins(t *testing.T) {
	now := time.Now().UTC()
	older := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	newer := change(models.OpUpdate, now.Add(time.Second), datatypes.JSONMap{"new_text": "Hola"})

	res := Resolve(older, newer, models.PolicyNewestWins)
	if res.Outcome != OutcomeRemote {
		t.Fatalf("newer remote should win, got %s", res.Outcome)
	}

	res = Resolve(newer, older, models.PolicyNewestWins)
	if res.Outcome != OutcomeLocal {
		t.Fatalf("newer local should win, got %s", res.Outcome)
	}
}

func TestNewestWinsTieKeepsLocal(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	remote := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hola"})

	res := Resolve(local, remote, models.PolicyNewestWins)
	if res.Outcome != OutcomeLocal {
		t.Fatalf("tie must keep local for determinism, got %s", res.Outcome)
	}
}

func TestManualPolicyDefers(t *testing.T) {
	now := time.Now().UTC()
	local := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hallo"})
	remote := change(models.OpUpdate, now, datatypes.JSONMap{"new_text": "Hola"})

	res := Resolve(local, remote, models.PolicyManual)
	if res.Outcome != OutcomeManual {
		t.Fatalf("manual policy must defer, got %s", res.Outcome)
	}
	if res.Winner != nil {
		t.Fatal("deferred resolution must not pick a winner")
	}
}

func TestJSONEqualNestedStructures(t *testing.T) {
	a := map[string]interface{}{"tags": []interface{}{"a", "b"}, "n": 1.0}
	b := map[string]interface{}{"n": 1.0, "tags": []interface{}{"a", "b"}}
	if !jsonEqual(a, b) {
		t.Fatal("structurally equal maps reported unequal")
	}
	c := map[string]interface{}{"n": 1.0, "tags": []interface{}{"b", "a"}}
	if jsonEqual(a, c) {
		t.Fatal("different slice order reported equal")
	}
}
