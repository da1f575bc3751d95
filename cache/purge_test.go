package cache

import (
	"context"
	"testing"

	"scedge.app/pkg/models"
)

func seedForPurge(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()
	records := []struct {
		key    string
		tenant string
		hash   string
	}{
		{"t1:greeting", "t1", "h1"},
		{"t1:farewell", "t1", "h2"},
		{"t2:greeting", "t2", "h1"},
	}
	for _, r := range records {
		if _, err := s.Store(ctx, &StoreRequest{Key: r.key, Artifact: artifactFor(r.tenant, r.hash)}); err != nil {
			t.Fatalf("seed Store(%s) error = %v", r.key, err)
		}
	}
}

func TestService_Purge_DiscriminatorTieBreak(t *testing.T) {
	s := newTestService()
	seedForPurge(t, s)

	// Keys, tenant, and provenance_hash are all set: keys must win.
	tenant := "t2"
	hash := "h1"
	resp, err := s.Purge(context.Background(), &PurgeRequest{
		Keys:           []string{"t1:greeting"},
		Tenant:         &tenant,
		ProvenanceHash: &hash,
	})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if resp.Purged != 1 {
		t.Fatalf("Purge() purged = %d, want 1 (keys discriminator only)", resp.Purged)
	}

	// t2:greeting (tenant discriminator target) must be untouched.
	record, err := s.facade.Get(context.Background(), "t2:greeting")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record == nil {
		t.Error("expected t2:greeting to survive: keys discriminator should have taken priority")
	}
}

func TestService_Purge_TenantBeatsProvenance(t *testing.T) {
	s := newTestService()
	seedForPurge(t, s)

	tenant := "t1"
	hash := "h1"
	resp, err := s.Purge(context.Background(), &PurgeRequest{
		Tenant:         &tenant,
		ProvenanceHash: &hash,
	})
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	// tenant discriminator purges every t1:* key, not just the h1 match.
	if resp.Purged != 2 {
		t.Fatalf("Purge() purged = %d, want 2 (tenant discriminator)", resp.Purged)
	}

	record, err := s.facade.Get(context.Background(), "t2:greeting")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record == nil {
		t.Error("expected t2:greeting (different tenant) to survive a tenant-scoped purge")
	}
}

func TestService_Purge_ByTenant(t *testing.T) {
	s := newTestService()
	seedForPurge(t, s)

	count, err := s.PurgeByTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("PurgeByTenant() error = %v", err)
	}
	if count != 2 {
		t.Errorf("PurgeByTenant() = %d, want 2", count)
	}
}

func TestService_Purge_ByProvenanceHash_ScansAllTenants(t *testing.T) {
	s := newTestService()
	seedForPurge(t, s)

	count, err := s.purgeByProvenanceHash(context.Background(), "h1")
	if err != nil {
		t.Fatalf("purgeByProvenanceHash() error = %v", err)
	}
	// h1 is the hash on both t1:greeting and t2:greeting.
	if count != 2 {
		t.Errorf("purgeByProvenanceHash() = %d, want 2 (scan must cover every tenant)", count)
	}

	record, err := s.facade.Get(context.Background(), "t1:farewell")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record == nil {
		t.Error("expected t1:farewell (hash h2) to survive a hash=h1 purge")
	}
}

func TestService_Purge_NoDiscriminatorIsBadRequest(t *testing.T) {
	s := newTestService()
	_, err := s.Purge(context.Background(), &PurgeRequest{})
	if !isBadRequest(err) {
		t.Errorf("expected BadRequest when no discriminator is set, got %v", err)
	}
}

func TestService_PurgeSupersededBy(t *testing.T) {
	s := newTestService()
	seedForPurge(t, s)

	count, err := s.PurgeSupersededBy(context.Background(), "t1", "h1")
	if err != nil {
		t.Fatalf("PurgeSupersededBy() error = %v", err)
	}
	if count != 1 {
		t.Errorf("PurgeSupersededBy() = %d, want 1", count)
	}

	record, err := s.facade.Get(context.Background(), "t2:greeting")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record == nil {
		t.Error("PurgeSupersededBy is tenant-scoped: t2's record with the same hash must survive")
	}
}

func TestService_PurgeRevokeCapsule(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	withCapsule := artifactFor("t1", "h1")
	withCapsule.Provenance = []models.ProvenanceInfo{{Source: "capsule://t1/capsule-7/v1"}}
	s.Store(ctx, &StoreRequest{Key: "t1:a", Artifact: withCapsule})

	withoutCapsule := artifactFor("t1", "h2")
	s.Store(ctx, &StoreRequest{Key: "t1:b", Artifact: withoutCapsule})

	count, err := s.PurgeRevokeCapsule(ctx, "t1", "capsule-7")
	if err != nil {
		t.Fatalf("PurgeRevokeCapsule() error = %v", err)
	}
	if count != 1 {
		t.Errorf("PurgeRevokeCapsule() = %d, want 1", count)
	}

	record, err := s.facade.Get(ctx, "t1:b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record == nil {
		t.Error("expected the record without the revoked capsule to survive")
	}
}

func TestService_Purge_KeysDiscriminatorStillValidatesAPIKey(t *testing.T) {
	s := newTestService()
	s.policy.AddTenant(models.TenantConfig{TenantID: "t1", APIKey: "correct-key"})
	seedForPurge(t, s)

	tenant := "t1"
	_, err := s.Purge(context.Background(), &PurgeRequest{
		Keys:   []string{"t1:greeting"},
		Tenant: &tenant,
		APIKey: "wrong-key",
	})
	if !isBadRequest(err) {
		t.Fatalf("expected a BadRequest API-key rejection even though keys won the discriminator tie-break, got %v", err)
	}

	record, err := s.facade.Get(context.Background(), "t1:greeting")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if record == nil {
		t.Error("purge must not have executed once the API key failed validation")
	}
}

func TestService_Purge_TenantWithProvenanceHashStillValidatesAPIKey(t *testing.T) {
	s := newTestService()
	s.policy.AddTenant(models.TenantConfig{TenantID: "t1", APIKey: "correct-key"})
	seedForPurge(t, s)

	tenant := "t1"
	hash := "h1"
	_, err := s.Purge(context.Background(), &PurgeRequest{
		Tenant:         &tenant,
		ProvenanceHash: &hash,
		APIKey:         "wrong-key",
	})
	if !isBadRequest(err) {
		t.Fatalf("expected a BadRequest API-key rejection when tenant and provenance_hash are both set, got %v", err)
	}
}

func TestCrossServicePurgeFuncs_RequireInitializedService(t *testing.T) {
	prev := svc
	svc = nil
	defer func() { svc = prev }()

	if _, err := PurgeTenant(context.Background(), "t1"); err == nil {
		t.Error("expected PurgeTenant to fail when the package service is uninitialized")
	}
	if _, err := PurgeSupersededByEvent(context.Background(), "t1", "h1"); err == nil {
		t.Error("expected PurgeSupersededByEvent to fail when the package service is uninitialized")
	}
	if _, err := PurgeRevokeCapsuleEvent(context.Background(), "t1", "c1"); err == nil {
		t.Error("expected PurgeRevokeCapsuleEvent to fail when the package service is uninitialized")
	}
}

func TestCrossServicePurgeFuncs_DelegateToPackageService(t *testing.T) {
	prev := svc
	s := newTestService()
	seedForPurge(t, s)
	svc = s
	defer func() { svc = prev }()

	count, err := PurgeTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("PurgeTenant() error = %v", err)
	}
	if count != 2 {
		t.Errorf("PurgeTenant() = %d, want 2", count)
	}
}
