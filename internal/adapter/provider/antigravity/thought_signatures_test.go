package antigravity

import "testing"

func TestIsValidSignatureRejectsShortPlaceholders(t *testing.T) {
	tests := []struct {
		signature string
		want      bool
	}{
		{"", false},
		{"short", false},
		{"exactly10!", true},
		{"a-real-looking-upstream-signature", true},
	}
	for _, tt := range tests {
		if got := IsValidSignature(tt.signature); got != tt.want {
			t.Errorf("IsValidSignature(%q) = %v, want %v", tt.signature, got, tt.want)
		}
	}
}

func TestRememberForToolRejectsInvalidSignatures(t *testing.T) {
	s := &ThoughtSignatureStore{
		byTool:    make(map[string]string),
		byFamily:  make(map[string]string),
		bySession: make(map[string]map[string]signatureRecord),
	}

	s.RememberForTool("tool-1", "short")
	if got := s.RecallForTool("tool-1"); got != "" {
		t.Errorf("RecallForTool() = %q, want empty after an invalid signature was rejected", got)
	}

	s.RememberForTool("tool-1", "a-genuinely-long-upstream-signature")
	if got := s.RecallForTool("tool-1"); got == "" {
		t.Error("RecallForTool() returned empty after storing a valid signature")
	}
}

func TestRememberForSessionIsMonotonicPerTextKey(t *testing.T) {
	s := &ThoughtSignatureStore{
		byTool:    make(map[string]string),
		byFamily:  make(map[string]string),
		bySession: make(map[string]map[string]signatureRecord),
	}

	s.RememberForSession("session-1", "thinking text A", "signature-one-long-enough")
	if got := s.RecallForSession("session-1", "thinking text A"); got != "signature-one-long-enough" {
		t.Fatalf("RecallForSession() = %q, want signature-one-long-enough", got)
	}

	// A later call for the same session+text overwrites rather than stacks.
	s.RememberForSession("session-1", "thinking text A", "signature-two-long-enough")
	if got := s.RecallForSession("session-1", "thinking text A"); got != "signature-two-long-enough" {
		t.Fatalf("RecallForSession() after overwrite = %q, want signature-two-long-enough", got)
	}

	// A distinct text under the same session is stored independently.
	s.RememberForSession("session-1", "thinking text B", "signature-three-long-enough")
	if got := s.RecallForSession("session-1", "thinking text A"); got != "signature-two-long-enough" {
		t.Errorf("storing text B clobbered text A's signature: got %q", got)
	}
}

func TestRecallForSessionMissesUnknownSessionOrText(t *testing.T) {
	s := &ThoughtSignatureStore{
		byTool:    make(map[string]string),
		byFamily:  make(map[string]string),
		bySession: make(map[string]map[string]signatureRecord),
	}
	s.RememberForSession("session-1", "text", "a-long-enough-signature")

	if got := s.RecallForSession("session-2", "text"); got != "" {
		t.Errorf("RecallForSession() for unknown session = %q, want empty", got)
	}
	if got := s.RecallForSession("session-1", "other text"); got != "" {
		t.Errorf("RecallForSession() for unknown text = %q, want empty", got)
	}
}

func TestFallbackTracksMostRecentSignature(t *testing.T) {
	s := &ThoughtSignatureStore{
		byTool:    make(map[string]string),
		byFamily:  make(map[string]string),
		bySession: make(map[string]map[string]signatureRecord),
	}

	s.RememberForFamily("first-long-enough-signature", "gemini-2.5-pro")
	if got := s.Fallback(); got != "first-long-enough-signature" {
		t.Fatalf("Fallback() = %q, want first-long-enough-signature", got)
	}

	s.RememberForTool("tool-9", "second-long-enough-signature")
	if got := s.Fallback(); got != "second-long-enough-signature" {
		t.Fatalf("Fallback() = %q, want second-long-enough-signature after a newer signature was remembered", got)
	}
}

func TestSameModelFamilyMatchesWithinPrefixGroup(t *testing.T) {
	tests := []struct {
		cached, target string
		want            bool
	}{
		{"gemini-2.5-pro", "gemini-2.5-flash", true},
		{"gemini-2.5-pro", "gemini-3-pro-preview", false},
		{"gemini-2.5-pro", "gemini-2.5-pro", true},
		{"claude-3-5-sonnet", "claude-3-5-haiku", true},
		{"claude-3-5-sonnet", "claude-4-sonnet", false},
	}
	for _, tt := range tests {
		if got := SameModelFamily(tt.cached, tt.target); got != tt.want {
			t.Errorf("SameModelFamily(%q, %q) = %v, want %v", tt.cached, tt.target, got, tt.want)
		}
	}
}
