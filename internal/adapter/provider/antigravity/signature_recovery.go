package antigravity

// processContentsForSignatures walks a translated request's model-turn
// parts, recovering a usable thoughtSignature for any thinking or
// function-call part that lost one, then drops thinking blocks that still
// have none or whose signature belongs to an incompatible model family.
func processContentsForSignatures(contents []interface{}, _ string, mappedModel string) bool {
	modified := false
	cache := ThoughtSignatures()

	for _, content := range contents {
		contentMap, ok := content.(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := contentMap["role"].(string); role != "model" {
			continue
		}

		parts, ok := contentMap["parts"].([]interface{})
		if !ok {
			continue
		}

		var lastThinkingSignature string
		for i, part := range parts {
			partMap, ok := part.(map[string]interface{})
			if !ok {
				continue
			}

			sig, isThinking, downgraded := resolveThinkingSignature(partMap, mappedModel, cache)
			if downgraded {
				modified = true
				parts[i] = partMap
				continue
			}
			if isThinking {
				lastThinkingSignature = sig
			}

			if resolveFunctionCallSignature(partMap, mappedModel, lastThinkingSignature, cache) {
				modified = true
				parts[i] = partMap
			}
		}

		filtered := dropUnsignedThinking(parts)
		if len(filtered) != len(parts) {
			contentMap["parts"] = filtered
			modified = true
		}
	}

	return modified
}

// resolveThinkingSignature inspects a part that may be a thinking block.
// isThinking is false if partMap isn't a thinking part at all. downgraded
// is true if it was a thinking part whose signature belongs to a model
// family incompatible with mappedModel, in which case it has already been
// stripped down to plain text and the caller should skip it entirely,
// mirroring how an untranslatable thinking block can't be recovered.
func resolveThinkingSignature(partMap map[string]interface{}, mappedModel string, cache *ThoughtSignatureStore) (signature string, isThinking, downgraded bool) {
	thought, _ := partMap["thought"].(bool)
	if !thought {
		return "", false, false
	}

	text, _ := partMap["text"].(string)
	signature, _ = partMap["thoughtSignature"].(string)
	if !hasValidThinkingSignature(text, signature) {
		return "", true, false
	}

	if family := cache.FamilyOf(signature); family != "" && !SameModelFamily(family, mappedModel) {
		delete(partMap, "thought")
		delete(partMap, "thoughtSignature")
		return "", false, true
	}
	return signature, true, false
}

// resolveFunctionCallSignature cleans a function-call part's arguments and,
// if it lacks a usable thoughtSignature, tries to recover one from the
// per-tool cache or the last thinking block seen in this turn. Vertex's
// v1internal endpoint rejects sentinel placeholders, so a part that still
// has no valid signature afterward is left without the field entirely.
func resolveFunctionCallSignature(partMap map[string]interface{}, mappedModel, lastThinkingSignature string, cache *ThoughtSignatureStore) bool {
	fc, ok := partMap["functionCall"].(map[string]interface{})
	if !ok {
		return false
	}

	modified := false
	if args, ok := fc["args"].(map[string]interface{}); ok {
		CleanJSONSchema(args)
		fc["args"] = args
		partMap["functionCall"] = fc
		modified = true
	}

	signature, _ := partMap["thoughtSignature"].(string)
	if !IsValidSignature(signature) {
		if fcID, ok := fc["id"].(string); ok && fcID != "" {
			if cached := cache.RecallForTool(fcID); cached != "" {
				if family := cache.FamilyOf(cached); family != "" && !SameModelFamily(family, mappedModel) {
					return modified
				}
				signature = cached
				partMap["thoughtSignature"] = cached
				modified = true
			}
		}
	}

	switch {
	case IsValidSignature(signature):
		partMap["thoughtSignature"] = signature
		modified = true
	case IsValidSignature(lastThinkingSignature):
		partMap["thoughtSignature"] = lastThinkingSignature
		modified = true
	}

	return modified
}

// dropUnsignedThinking removes thinking parts that never ended up with a
// signature long enough to survive Vertex's validation, leaving every
// other part untouched.
func dropUnsignedThinking(parts []interface{}) []interface{} {
	filtered := make([]interface{}, 0, len(parts))
	for _, part := range parts {
		partMap, ok := part.(map[string]interface{})
		if !ok {
			filtered = append(filtered, part)
			continue
		}

		thought, isThought := partMap["thought"].(bool)
		if !isThought || !thought {
			filtered = append(filtered, part)
			continue
		}

		text, _ := partMap["text"].(string)
		signature, _ := partMap["thoughtSignature"].(string)
		if hasValidThinkingSignature(text, signature) {
			filtered = append(filtered, part)
		}
	}
	return filtered
}
