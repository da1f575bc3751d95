package policy

import (
	"context"
	"testing"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

func newTestPolicyService() *Service {
	return &Service{engine: NewEngine("")}
}

func TestService_AddTenant_RegistersAgainstTheEngine(t *testing.T) {
	s := newTestPolicyService()
	ttl := 1800

	resp, err := s.AddTenant(context.Background(), &AddTenantRequest{
		TenantID:       "t1",
		APIKey:         "secret-1",
		MaxTTLSeconds:  &ttl,
		AllowedRegions: []string{"us-east"},
	})
	if err != nil {
		t.Fatalf("AddTenant() error = %v", err)
	}
	if resp.TenantID != "t1" {
		t.Errorf("AddTenant() response = %+v", resp)
	}

	if err := s.engine.ValidateAPIKey("t1", "secret-1"); err != nil {
		t.Errorf("expected the registered tenant to validate, got %v", err)
	}
}

func TestService_AddTenant_RequiresTenantIDAndAPIKey(t *testing.T) {
	s := newTestPolicyService()

	if _, err := s.AddTenant(context.Background(), &AddTenantRequest{APIKey: "k"}); err == nil {
		t.Error("expected a missing tenant_id to fail")
	}
	if _, err := s.AddTenant(context.Background(), &AddTenantRequest{TenantID: "t1"}); err == nil {
		t.Error("expected a missing api_key to fail")
	}
}

func TestService_GetTenant(t *testing.T) {
	s := newTestPolicyService()
	ttl := 900
	s.engine.AddTenant(models.TenantConfig{TenantID: "t1", APIKey: "secret-1", MaxTTLSeconds: &ttl})

	resp, err := s.GetTenant(context.Background(), "t1")
	if err != nil {
		t.Fatalf("GetTenant() error = %v", err)
	}
	if resp.TenantID != "t1" || resp.MaxTTLSeconds == nil || *resp.MaxTTLSeconds != 900 {
		t.Errorf("GetTenant() = %+v", resp)
	}

	_, err = s.GetTenant(context.Background(), "unknown")
	if !apperr.IsNotFound(err) {
		t.Errorf("expected NotFound for an unregistered tenant, got %v", err)
	}
}
