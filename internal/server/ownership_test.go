package server

import (
	"testing"
	"time"

	"github.com/dylanbstorey/arawn/pkg/models"
)

func TestOwnershipClaimSequence(t *testing.T) {
	m := NewOwnershipManager(time.Minute)
	session := models.SessionID("s1")

	if !m.TryClaim(session, "A") {
		t.Fatalf("A's initial claim should succeed")
	}
	if m.TryClaim(session, "B") {
		t.Fatalf("B's claim should fail while A owns the session")
	}

	m.ReleaseAll("A", map[models.SessionID]string{session: "tok1"})

	if m.TryClaim(session, "B") {
		t.Fatalf("B's claim should fail while a pending reconnect exists")
	}

	newToken := m.Reclaim(session, "tok1", "A2")
	if newToken == "" {
		t.Fatalf("reclaim with the issued token should succeed")
	}
	if newToken == "tok1" {
		t.Fatalf("reclaim must issue a fresh token (single-use)")
	}
	if !m.IsOwner(session, "A2") {
		t.Fatalf("A2 should own the session after reclaim")
	}
}

func TestOwnershipReclaimWrongToken(t *testing.T) {
	m := NewOwnershipManager(time.Minute)
	session := models.SessionID("s1")

	m.TryClaim(session, "A")
	m.ReleaseAll("A", map[models.SessionID]string{session: "tok1"})

	if got := m.Reclaim(session, "wrong", "B"); got != "" {
		t.Fatalf("reclaim with the wrong token must be denied")
	}
	if !m.HasPending(session) {
		t.Fatalf("pending entry should survive a failed reclaim")
	}
}

func TestOwnershipReclaimExpired(t *testing.T) {
	m := NewOwnershipManager(-time.Second) // immediately expired
	session := models.SessionID("s1")

	m.TryClaim(session, "A")
	m.ReleaseAll("A", map[models.SessionID]string{session: "tok1"})

	if got := m.Reclaim(session, "tok1", "A2"); got != "" {
		t.Fatalf("reclaim of an expired entry must be denied")
	}
	// Expired entry no longer blocks a fresh claim.
	if !m.TryClaim(session, "B") {
		t.Fatalf("claim should succeed once the pending entry expired")
	}
}

func TestOwnershipReclaimRace(t *testing.T) {
	m := NewOwnershipManager(time.Minute)
	session := models.SessionID("s1")

	m.TryClaim(session, "A")
	m.ReleaseAll("A", map[models.SessionID]string{session: "tok1"})

	// Simulate another connection installing ownership between the pending
	// check and the owners insert.
	m.ownersMu.Lock()
	m.owners[session] = "C"
	m.ownersMu.Unlock()
	// Reclaim removes the pending entry itself and then reaches the
	// double-check against owners, which must deny.
	if got := m.Reclaim(session, "tok1", "A2"); got != "" {
		t.Fatalf("reclaim must be denied when another connection claimed the session")
	}
	if !m.IsOwner(session, "C") {
		t.Fatalf("C must remain owner")
	}
}

func TestOwnershipReleaseAllWithoutToken(t *testing.T) {
	m := NewOwnershipManager(time.Minute)
	session := models.SessionID("s1")

	m.TryClaim(session, "A")
	// No token was issued on subscribe: no pending entry is installed.
	m.ReleaseAll("A", nil)

	if m.HasPending(session) {
		t.Fatalf("no pending reconnect expected without an issued token")
	}
	if !m.TryClaim(session, "B") {
		t.Fatalf("session should be immediately claimable")
	}
}

func TestOwnershipDisjointInvariant(t *testing.T) {
	m := NewOwnershipManager(time.Minute)
	session := models.SessionID("s1")

	m.TryClaim(session, "A")
	if m.HasPending(session) {
		t.Fatalf("owned session must not have a pending entry")
	}

	m.ReleaseAll("A", map[models.SessionID]string{session: "tok1"})
	if m.IsOwner(session, "A") {
		t.Fatalf("released session must not keep its owner")
	}
	if !m.HasPending(session) {
		t.Fatalf("released session with token must be pending")
	}

	m.Reclaim(session, "tok1", "B")
	if m.HasPending(session) {
		t.Fatalf("reclaimed session must not stay pending")
	}
}

func TestOwnershipCleanupExpired(t *testing.T) {
	m := NewOwnershipManager(-time.Second)
	for _, id := range []models.SessionID{"s1", "s2"} {
		m.TryClaim(id, "A")
	}
	m.ReleaseAll("A", map[models.SessionID]string{"s1": "t1", "s2": "t2"})

	if removed := m.CleanupExpired(); removed != 2 {
		t.Fatalf("expected 2 expired entries removed, got %d", removed)
	}
}

func TestOwnershipIdempotentClaim(t *testing.T) {
	m := NewOwnershipManager(time.Minute)
	if !m.TryClaim("s1", "A") || !m.TryClaim("s1", "A") {
		t.Fatalf("re-claim by the owner should succeed")
	}
}
