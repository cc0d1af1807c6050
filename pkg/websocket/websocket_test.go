package websocket

import "testing"

func TestComputeAcceptMatchesRFC6455Example(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := computeAccept("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNegotiateExtensionsNoHeaderMeansNoCompression(t *testing.T) {
	d, err := negotiateExtensions("", true)
	if err != nil {
		t.Fatalf("negotiateExtensions: %v", err)
	}
	if d != nil {
		t.Fatal("expected nil permessageDeflate when header absent")
	}
}

func TestNegotiateExtensionsBasicAccept(t *testing.T) {
	d, err := negotiateExtensions("permessage-deflate", true)
	if err != nil {
		t.Fatalf("negotiateExtensions: %v", err)
	}
	if d == nil {
		t.Fatal("expected non-nil permessageDeflate")
	}
}

func TestNegotiateExtensionsNotOffered(t *testing.T) {
	if _, err := negotiateExtensions("permessage-deflate", false); err == nil {
		t.Fatal("expected error when server answers an extension the client never offered")
	}
}

func TestNegotiateExtensionsClientMaxWindowBitsMustBe15(t *testing.T) {
	if _, err := negotiateExtensions("permessage-deflate; client_max_window_bits=10", true); err == nil {
		t.Fatal("expected error for client_max_window_bits != 15")
	}
	if _, err := negotiateExtensions("permessage-deflate; client_max_window_bits=15", true); err != nil {
		t.Fatalf("client_max_window_bits=15 should be accepted: %v", err)
	}
	if _, err := negotiateExtensions("permessage-deflate; client_max_window_bits", true); err != nil {
		t.Fatalf("bare client_max_window_bits should be accepted: %v", err)
	}
}

func TestNegotiateExtensionsServerMaxWindowBitsRange(t *testing.T) {
	if _, err := negotiateExtensions("permessage-deflate; server_max_window_bits=7", true); err == nil {
		t.Fatal("expected error for server_max_window_bits below 8")
	}
	if _, err := negotiateExtensions("permessage-deflate; server_max_window_bits=16", true); err == nil {
		t.Fatal("expected error for server_max_window_bits above 15")
	}
	if _, err := negotiateExtensions("permessage-deflate; server_max_window_bits=12", true); err != nil {
		t.Fatalf("server_max_window_bits=12 should be accepted: %v", err)
	}
}

func TestNegotiateExtensionsNoContextTakeoverFlags(t *testing.T) {
	d, err := negotiateExtensions("permessage-deflate; client_no_context_takeover; server_no_context_takeover", true)
	if err != nil {
		t.Fatalf("negotiateExtensions: %v", err)
	}
	if !d.clientNoContextTakeover || !d.serverNoContextTakeover {
		t.Fatal("expected both no-context-takeover flags set")
	}
}

func TestNegotiateExtensionsRejectsUnknownExtension(t *testing.T) {
	if _, err := negotiateExtensions("permessage-foo", true); err == nil {
		t.Fatal("expected error for unrecognized extension")
	}
}

func TestNegotiateExtensionsRejectsDuplicateParameter(t *testing.T) {
	if _, err := negotiateExtensions("permessage-deflate; server_max_window_bits=10; server_max_window_bits=12", true); err == nil {
		t.Fatal("expected error for duplicate parameter")
	}
}

func TestParseClosePayloadEmptyMeansNoStatus(t *testing.T) {
	code, reason, err := parseClosePayload(nil)
	if err != nil {
		t.Fatalf("parseClosePayload: %v", err)
	}
	if code != 1005 || reason != "" {
		t.Fatalf("got code=%d reason=%q", code, reason)
	}
}

func TestParseClosePayloadRejectsSingleByte(t *testing.T) {
	if _, _, err := parseClosePayload([]byte{0x03}); err == nil {
		t.Fatal("expected error for 1-byte close payload")
	}
}

func TestParseClosePayloadValidCodeAndReason(t *testing.T) {
	payload := append([]byte{0x03, 0xE8}, []byte("bye")...) // 1000
	code, reason, err := parseClosePayload(payload)
	if err != nil {
		t.Fatalf("parseClosePayload: %v", err)
	}
	if code != 1000 || reason != "bye" {
		t.Fatalf("got code=%d reason=%q", code, reason)
	}
}

func TestParseClosePayloadRejectsReservedCodes(t *testing.T) {
	for _, code := range []int{1004, 1005, 1006, 1015} {
		payload := []byte{byte(code >> 8), byte(code)}
		if _, _, err := parseClosePayload(payload); err == nil {
			t.Fatalf("expected error for reserved close code %d", code)
		}
	}
}

func TestParseClosePayloadRejectsOutOfRangeCode(t *testing.T) {
	payload := []byte{0x13, 0x88} // 5000
	if _, _, err := parseClosePayload(payload); err == nil {
		t.Fatal("expected error for close code >= 5000")
	}
}
