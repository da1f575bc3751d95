package policy

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"scedge.app/pkg/apperr"
	"scedge.app/pkg/models"
)

func maxTTL(n int) *int { return &n }

func newTestEngine() *Engine {
	e := NewEngine("")
	e.LoadTenants([]models.TenantConfig{
		{TenantID: "t1", APIKey: "secret-1", AllowedRegions: []string{"us-east", "eu-west"}, MaxTTLSeconds: maxTTL(3600)},
		{TenantID: "t2", APIKey: "secret-2"},
	})
	return e
}

func TestEngine_ValidateAPIKey(t *testing.T) {
	e := newTestEngine()

	if err := e.ValidateAPIKey("t1", "secret-1"); err != nil {
		t.Errorf("expected a valid key to pass, got %v", err)
	}
	if err := e.ValidateAPIKey("t1", "wrong"); err == nil {
		t.Error("expected a mismatched key to fail")
	}
	if err := e.ValidateAPIKey("unknown-tenant", "anything"); err == nil {
		t.Error("expected an unknown tenant to fail")
	}
}

func TestEngine_ValidateTTL(t *testing.T) {
	e := newTestEngine()

	ttl := 1800
	if err := e.ValidateTTL("t1", &ttl); err != nil {
		t.Errorf("expected a TTL under the ceiling to pass, got %v", err)
	}

	tooLong := 7200
	if err := e.ValidateTTL("t1", &tooLong); err == nil {
		t.Error("expected a TTL above the tenant's ceiling to fail")
	}

	if err := e.ValidateTTL("t1", nil); err != nil {
		t.Errorf("expected a nil TTL to pass through, got %v", err)
	}

	// t2 has no configured ceiling: any TTL is allowed.
	huge := 1000000
	if err := e.ValidateTTL("t2", &huge); err != nil {
		t.Errorf("expected an unconfigured ceiling to allow any TTL, got %v", err)
	}

	if err := e.ValidateTTL("unknown-tenant", &huge); err != nil {
		t.Errorf("expected an unknown tenant to pass through, got %v", err)
	}
}

func TestEngine_ValidateRegion(t *testing.T) {
	e := newTestEngine()

	allowed := "us-east"
	if err := e.ValidateRegion("t1", &allowed); err != nil {
		t.Errorf("expected an allowed region to pass, got %v", err)
	}

	disallowed := "ap-south"
	if err := e.ValidateRegion("t1", &disallowed); err == nil {
		t.Error("expected a disallowed region to fail")
	}

	if err := e.ValidateRegion("t1", nil); err != nil {
		t.Errorf("expected a nil region to pass through, got %v", err)
	}

	// t2 has no allow-list: any region passes.
	if err := e.ValidateRegion("t2", &disallowed); err != nil {
		t.Errorf("expected an unconfigured allow-list to permit any region, got %v", err)
	}
}

func TestEngine_ValidateCompliance_NeverErrors(t *testing.T) {
	e := NewEngine("")
	e.AddTenant(models.TenantConfig{TenantID: "t1", RequirePHICompliance: true, RequirePIICompliance: true})

	if err := e.ValidateCompliance("t1", false, false); err != nil {
		t.Errorf("ValidateCompliance is logging-only and must never fail a request, got %v", err)
	}
	if err := e.ValidateCompliance("unknown", false, false); err != nil {
		t.Errorf("ValidateCompliance for an unknown tenant must not fail, got %v", err)
	}
}

func TestEngine_ValidateJWT(t *testing.T) {
	secret := "test-secret"
	e := NewEngine(secret)

	validToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Subject: "svc-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := validToken.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	claims, err := e.ValidateJWT(signed)
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if claims.Subject != "svc-a" {
		t.Errorf("Subject = %q, want svc-a", claims.Subject)
	}

	expiredToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Subject: "svc-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	expiredSigned, _ := expiredToken.SignedString([]byte(secret))
	if _, err := e.ValidateJWT(expiredSigned); err == nil {
		t.Error("expected an expired token to fail validation")
	}

	wrongSecretToken, _ := validToken.SignedString([]byte("not-the-secret"))
	if _, err := e.ValidateJWT(wrongSecretToken); err == nil {
		t.Error("expected a token signed with the wrong secret to fail validation")
	}

	unconfigured := NewEngine("")
	if _, err := unconfigured.ValidateJWT(signed); err == nil {
		t.Error("expected ValidateJWT to fail when no secret is configured")
	} else if apperr.IsNotFound(err) {
		t.Error("an unconfigured secret is an Internal condition, not NotFound")
	}
}

func TestEngine_SetJWTSecret_PreservesTenantRegistry(t *testing.T) {
	e := newTestEngine()

	e.SetJWTSecret("new-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Subject: "svc-a",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte("new-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	if _, err := e.ValidateJWT(signed); err != nil {
		t.Errorf("ValidateJWT() error = %v after SetJWTSecret", err)
	}

	if err := e.ValidateAPIKey("t1", "secret-1"); err != nil {
		t.Errorf("SetJWTSecret must not disturb the tenant registry, ValidateAPIKey() error = %v", err)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if got := ExtractBearerToken("Bearer abc123"); got != "abc123" {
		t.Errorf("ExtractBearerToken() = %q, want abc123", got)
	}
	if got := ExtractBearerToken("Basic abc123"); got != "" {
		t.Errorf("ExtractBearerToken() = %q, want empty for non-bearer header", got)
	}
	if got := ExtractBearerToken(""); got != "" {
		t.Errorf("ExtractBearerToken() = %q, want empty for blank header", got)
	}
}

func TestExtractAPIKey(t *testing.T) {
	if got := ExtractAPIKey("  secret-1  "); got != "secret-1" {
		t.Errorf("ExtractAPIKey() = %q, want trimmed value", got)
	}
}
