package antigravity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Gemini 3 Pro's thinking mode signs every function call and thinking block
// with an opaque thoughtSignature. A client that strips thinking content
// before replaying history breaks that chain, so upstream rejects the next
// turn's tool results with a 400. ThoughtSignatureStore lets the adapter
// recover a plausible signature from whatever context is available, in
// descending order of confidence: the exact tool call, the exact session
// and thinking text, the model family, and finally any signature seen at
// all in the process.
type ThoughtSignatureStore struct {
	mu sync.RWMutex

	byTool    map[string]string
	byFamily  map[string]string
	bySession map[string]map[string]signatureRecord
	fallback  string
}

type signatureRecord struct {
	signature string
	storedAt  time.Time
}

const (
	signatureTTL = time.Hour

	maxSignaturesPerSession = 100

	sessionHashLen = 16

	// minSignatureLen is the shortest length a real upstream signature can
	// have. Anything shorter is a client-fabricated placeholder.
	minSignatureLen = 50

	// SkipThoughtSignatureValidation is the sentinel value the translator
	// substitutes when no recoverable signature exists for a tool call.
	SkipThoughtSignatureValidation = "skip_thought_signature_validator"
)

var thoughtSignatures = &ThoughtSignatureStore{
	byTool:    make(map[string]string),
	byFamily:  make(map[string]string),
	bySession: make(map[string]map[string]signatureRecord),
}

// ThoughtSignatures returns the process-wide signature recovery store.
func ThoughtSignatures() *ThoughtSignatureStore {
	return thoughtSignatures
}

// RememberForSession associates a signature with a session and the exact
// thinking text it was produced for, and updates the global fallback.
func (s *ThoughtSignatureStore) RememberForSession(sessionID, text, signature string) {
	if sessionID == "" || text == "" || !IsValidSignature(signature) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bySession[sessionID]
	if bucket == nil {
		bucket = make(map[string]signatureRecord)
		s.bySession[sessionID] = bucket
	}

	if len(bucket) >= maxSignaturesPerSession {
		evictExpired(bucket)
	}

	bucket[hashText(text)] = signatureRecord{signature: signature, storedAt: time.Now()}
	s.fallback = signature
}

// RecallForSession returns the signature stored for this session and text,
// or "" if none was stored or it has expired.
func (s *ThoughtSignatureStore) RecallForSession(sessionID, text string) string {
	if sessionID == "" || text == "" {
		return ""
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.bySession[sessionID]
	if !ok {
		return ""
	}

	record, ok := bucket[hashText(text)]
	if !ok || time.Since(record.storedAt) > signatureTTL {
		return ""
	}
	return record.signature
}

// RememberForTool pins a signature to the tool call it was issued for.
func (s *ThoughtSignatureStore) RememberForTool(toolID, signature string) {
	if !IsValidSignature(signature) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTool[toolID] = signature
}

// RecallForTool returns the signature pinned to a tool call ID, if any.
func (s *ThoughtSignatureStore) RecallForTool(toolID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byTool[toolID]
}

// RememberForFamily records the most recent signature seen for a model
// family, and updates the global fallback.
func (s *ThoughtSignatureStore) RememberForFamily(signature, model string) {
	if !IsValidSignature(signature) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFamily[modelFamily(model)] = signature
	s.fallback = signature
}

// FamilyOf returns which model family last produced the given signature.
func (s *ThoughtSignatureStore) FamilyOf(signature string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for family, sig := range s.byFamily {
		if sig == signature {
			return family
		}
	}
	return ""
}

// Fallback returns the most recently stored signature, regardless of which
// session, tool, or family produced it.
func (s *ThoughtSignatureStore) Fallback() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

// RememberFallback sets the global fallback signature directly.
func (s *ThoughtSignatureStore) RememberFallback(signature string) {
	if !IsValidSignature(signature) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = signature
}

func evictExpired(bucket map[string]signatureRecord) {
	now := time.Now()
	for key, record := range bucket {
		if now.Sub(record.storedAt) > signatureTTL {
			delete(bucket, key)
		}
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:sessionHashLen]
}

// IsValidSignature reports whether a signature is non-empty and long enough
// to plausibly be a real upstream value rather than a client placeholder.
func IsValidSignature(signature string) bool {
	return len(signature) >= minSignatureLen
}

// modelFamilyPrefixes is checked in order; the first substring match wins.
var modelFamilyPrefixes = []string{
	"gemini-1.5",
	"gemini-2.0",
	"gemini-2.5",
	"gemini-3",
	"claude-3-5",
	"claude-3-7",
	"claude-4",
}

func modelFamily(model string) string {
	lower := strings.ToLower(model)
	for _, prefix := range modelFamilyPrefixes {
		if strings.Contains(lower, prefix) {
			return prefix
		}
	}
	return lower
}

// SameModelFamily reports whether cached and target either match exactly or
// fall into the same known model family, so a signature cached against one
// can be reused for the other.
func SameModelFamily(cached, target string) bool {
	c, t := strings.ToLower(cached), strings.ToLower(target)
	return c == t || modelFamily(c) == modelFamily(t)
}
