package upstream

import "testing"

func TestClassifyUnsupportedCountry(t *testing.T) {
	err := classify(403, "unsupported_country_code", "blocked", `{"error":{"code":"unsupported_country_code"}}`)
	if err.Kind != KindUnsupportedCountry {
		t.Fatalf("expected KindUnsupportedCountry, got %v", err.Kind)
	}
}

func TestClassifyAuthExpired(t *testing.T) {
	err := classify(401, "", "", "unauthorized")
	if err.Kind != KindUpstreamAuthExpired {
		t.Fatalf("expected KindUpstreamAuthExpired, got %v", err.Kind)
	}
}

func TestClassifyOverloadHeavyLoadCode(t *testing.T) {
	err := classify(500, "heavy_load", "", "")
	if err.Kind != KindOverload {
		t.Fatalf("expected KindOverload, got %v", err.Kind)
	}
}

func TestClassifyOverloadUnderHeavyLoadMessage(t *testing.T) {
	err := classify(500, "", "Server is under heavy load, please retry", "")
	if err.Kind != KindOverload {
		t.Fatalf("expected KindOverload, got %v", err.Kind)
	}
}

func TestClassifyContentViolation(t *testing.T) {
	err := classify(400, "content_policy_violation", "prompt rejected", "")
	if err.Kind != KindContentViolation {
		t.Fatalf("expected KindContentViolation, got %v", err.Kind)
	}
	if err.Message != "prompt rejected" {
		t.Fatalf("expected message passthrough, got %q", err.Message)
	}
}

func TestClassifyCfShield(t *testing.T) {
	err := classify(429, "cf_shield_429", "cloudflare challenge", `{"error":{"code":"cf_shield_429"}}`)
	if err.Kind != KindCfShield429 {
		t.Fatalf("expected KindCfShield429, got %v", err.Kind)
	}
}

func TestClassifyCfShieldTakesPriorityOverOverloadText(t *testing.T) {
	// A structured cf_shield_429 code must win even if the body also
	// happens to mention heavy load, since the shield failure isn't the
	// token's fault and must not count toward its consecutive-error ban.
	err := classify(429, "cf_shield_429", "under heavy load", "")
	if err.Kind != KindCfShield429 {
		t.Fatalf("expected KindCfShield429, got %v", err.Kind)
	}
}

func TestClassifyGenericFallback(t *testing.T) {
	err := classify(500, "", "", "boom")
	if err.Kind != KindGeneric {
		t.Fatalf("expected KindGeneric, got %v", err.Kind)
	}
}
