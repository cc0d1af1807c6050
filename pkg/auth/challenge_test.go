package auth

import "testing"

func TestParseBasicChallenge(t *testing.T) {
	cs := ParseChallenges(`Basic realm="protected area"`)
	if len(cs) != 1 {
		t.Fatalf("len = %d, want 1", len(cs))
	}
	if cs[0].Scheme != "Basic" {
		t.Fatalf("Scheme = %q", cs[0].Scheme)
	}
	if got := cs[0].Param("realm"); got != "protected area" {
		t.Fatalf("Param(realm) = %q", got)
	}
}

func TestParseBearerToken68(t *testing.T) {
	cs := ParseChallenges(`Bearer dGhlIHNhbXBsZSBub25jZQ==`)
	if len(cs) != 1 {
		t.Fatalf("len = %d, want 1", len(cs))
	}
	if cs[0].Token68 != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("Token68 = %q", cs[0].Token68)
	}
}

func TestParseMultipleParams(t *testing.T) {
	cs := ParseChallenges(`Digest realm="test", nonce="abc123", qop="auth"`)
	if len(cs) != 1 {
		t.Fatalf("len = %d, want 1", len(cs))
	}
	if cs[0].Param("realm") != "test" || cs[0].Param("nonce") != "abc123" || cs[0].Param("qop") != "auth" {
		t.Fatalf("params = %+v", cs[0].AuthParams)
	}
}

func TestParamKeysLowercased(t *testing.T) {
	cs := ParseChallenges(`Basic REALM="x"`)
	if cs[0].Param("realm") != "x" {
		t.Fatalf("expected case-insensitive param lookup")
	}
}

func TestMalformedChallengeSkipped(t *testing.T) {
	cs := ParseChallenges(`,,,`)
	if len(cs) != 0 {
		t.Fatalf("len = %d, want 0", len(cs))
	}
}

func TestBareSchemeNoParams(t *testing.T) {
	cs := ParseChallenges(`NTLM`)
	if len(cs) != 1 || cs[0].Scheme != "NTLM" {
		t.Fatalf("cs = %+v", cs)
	}
	if cs[0].Param("realm") != "" {
		t.Fatalf("expected no params")
	}
}
