package command

import (
	"context"
	"testing"
)

func TestResolutionAuditor_RecordAndVerify(t *testing.T) {
	auditor := newResolutionAuditor()

	token, err := auditor.record("alice", 7)
	if err != nil {
		t.Fatalf("expected no error signing token, got %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}

	claims, err := auditor.verify(token)
	if err != nil {
		t.Fatalf("expected token to verify, got %v", err)
	}
	if claims.Username != "alice" || claims.UserID != 7 {
		t.Errorf("expected claims for alice/7, got %+v", claims)
	}

	if got := len(auditor.Trail()); got != 1 {
		t.Errorf("expected 1 entry in the trail, got %d", got)
	}
}

func TestResolutionAuditor_RejectsForeignToken(t *testing.T) {
	a1 := newResolutionAuditor()
	a2 := newResolutionAuditor()

	token, err := a1.record("bob", 9)
	if err != nil {
		t.Fatalf("expected no error signing token, got %v", err)
	}

	if _, err := a2.verify(token); err == nil {
		t.Error("expected a token signed by a different auditor to fail verification")
	}
}

func TestService_UsernameResolutionIsAudited(t *testing.T) {
	coord := &fakeCoordinator{}
	msgr := newFakeMessenger()
	msgr.usernames["alice"] = 7
	svc := NewService(context.Background(), msgr, coord, fakeSnapshot{}, DefaultParams(), []string{"@alice"})

	trail := svc.audit.Trail()
	if len(trail) != 1 {
		t.Fatalf("expected one audited resolution, got %d", len(trail))
	}
	claims, err := svc.audit.verify(trail[0])
	if err != nil {
		t.Fatalf("expected audited token to verify, got %v", err)
	}
	if claims.Username != "alice" || claims.UserID != 7 {
		t.Errorf("expected audit record for alice/7, got %+v", claims)
	}
}
