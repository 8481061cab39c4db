package antigravity

import "strings"

// nativeModels pass through unchanged: Claude models the upstream already
// serves directly, plus every Gemini model name the router recognizes.
var nativeModels = map[string]string{
	"claude-opus-4-5-thinking":   "claude-opus-4-5-thinking",
	"claude-sonnet-4-5":          "claude-sonnet-4-5",
	"claude-sonnet-4-5-thinking": "claude-sonnet-4-5-thinking",

	"gemini-2.5-flash-lite":     "gemini-2.5-flash-lite",
	"gemini-2.5-flash-thinking": "gemini-2.5-flash-thinking",
	"gemini-2.5-flash":          "gemini-2.5-flash",
	"gemini-2.5-pro":            "gemini-2.5-pro",
	"gemini-3-pro-low":          "gemini-3-pro-low",
	"gemini-3-pro-high":         "gemini-3-pro-high",
	"gemini-3-pro-preview":      "gemini-3-pro-preview",
	"gemini-3-pro":              "gemini-3-pro",
	"gemini-3-flash":            "gemini-3-flash",
	"gemini-3-pro-image":        "gemini-3-pro-image",
}

// aliasedModels covers Claude version strings and OpenAI-protocol model
// names that a client may send instead of our own native names above.
var aliasedModels = map[string]string{
	"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-thinking",
	"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
	"claude-3-5-sonnet-20240620": "claude-sonnet-4-5",
	"claude-opus-4":              "claude-opus-4-5-thinking",
	"claude-opus-4-5-20251101":   "claude-opus-4-5-thinking",

	"gpt-4":                  "gemini-2.5-pro",
	"gpt-4-turbo":            "gemini-2.5-pro",
	"gpt-4-turbo-preview":    "gemini-2.5-pro",
	"gpt-4-0125-preview":     "gemini-2.5-pro",
	"gpt-4-1106-preview":     "gemini-2.5-pro",
	"gpt-4-0613":             "gemini-2.5-pro",
	"gpt-4o":                 "gemini-2.5-pro",
	"gpt-4o-2024-05-13":      "gemini-2.5-pro",
	"gpt-4o-2024-08-06":      "gemini-2.5-pro",
	"gpt-4o-mini":            "gemini-2.5-flash",
	"gpt-4o-mini-2024-07-18": "gemini-2.5-flash",
	"gpt-3.5-turbo":          "gemini-2.5-flash",
	"gpt-3.5-turbo-16k":      "gemini-2.5-flash",
	"gpt-3.5-turbo-0125":     "gemini-2.5-flash",
	"gpt-3.5-turbo-1106":     "gemini-2.5-flash",
	"gpt-3.5-turbo-0613":     "gemini-2.5-flash",
}

// MapClaudeModelToGemini resolves any client-facing model name (Claude,
// OpenAI, or Gemini) to the Gemini model the upstream should actually
// serve. Lookup order: exact native name, exact alias, Haiku downgrade,
// pass-through prefix, then a fixed fallback.
func MapClaudeModelToGemini(input string) string {
	cleanInput := strings.TrimSuffix(input, "-online")

	if mapped, ok := nativeModels[cleanInput]; ok {
		return mapped
	}
	if mapped, ok := aliasedModels[cleanInput]; ok {
		return mapped
	}

	// All Haiku variants are too cheap to warrant a full model; route them
	// to the lite tier instead.
	if strings.Contains(strings.ToLower(cleanInput), "haiku") {
		return "gemini-2.5-flash-lite"
	}

	// Unknown gemini-* or *-thinking names pass through so new upstream
	// suffixes work without a mapping-table update.
	if strings.HasPrefix(cleanInput, "gemini-") || strings.Contains(cleanInput, "thinking") {
		return cleanInput
	}

	return "claude-sonnet-4-5"
}

// ShouldEnableThinkingByDefault reports whether thinking mode should be
// assumed even though the client didn't ask for it, matching the behavior
// Claude Code itself applies to Opus 4.5 and explicit thinking variants.
func ShouldEnableThinkingByDefault(model string) bool {
	modelLower := strings.ToLower(model)
	return strings.Contains(modelLower, "opus-4-5") ||
		strings.Contains(modelLower, "opus-4.5") ||
		strings.Contains(modelLower, "-thinking")
}

// TargetModelSupportsThinking reports whether the upstream model family
// accepts a thinking config at all.
func TargetModelSupportsThinking(mappedModel string) bool {
	return strings.Contains(mappedModel, "-thinking") || strings.HasPrefix(mappedModel, "claude-")
}

// aspectRatioSuffixes maps the model-name suffix a client appends to the
// aspectRatio value Gemini's image generation config expects, checked in
// order so "-21x9"/"-21-9" never falls through to a looser later match.
var aspectRatioSuffixes = []struct {
	suffixes []string
	ratio    string
}{
	{[]string{"-21x9", "-21-9"}, "21:9"},
	{[]string{"-16x9", "-16-9"}, "16:9"},
	{[]string{"-9x16", "-9-16"}, "9:16"},
	{[]string{"-4x3", "-4-3"}, "4:3"},
	{[]string{"-3x4", "-3-4"}, "3:4"},
	{[]string{"-1x1", "-1-1"}, "1:1"},
}

// ParseImageConfig derives Gemini's imageConfig (aspect ratio, resolution)
// from the suffixes a client packs onto an image-generation model name, and
// returns the single concrete upstream model name all of them resolve to.
func ParseImageConfig(modelName string) (map[string]interface{}, string) {
	aspectRatio := "1:1"
	for _, candidate := range aspectRatioSuffixes {
		if matchesAnySuffix(modelName, candidate.suffixes) {
			aspectRatio = candidate.ratio
			break
		}
	}

	config := map[string]interface{}{
		"aspectRatio": aspectRatio,
	}

	switch {
	case strings.Contains(modelName, "-4k") || strings.Contains(modelName, "-hd"):
		config["imageSize"] = "4K"
	case strings.Contains(modelName, "-2k"):
		config["imageSize"] = "2K"
	}

	// The upstream model must be EXACTLY "gemini-3-pro-image".
	return config, "gemini-3-pro-image"
}

func matchesAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.Contains(s, suffix) {
			return true
		}
	}
	return false
}
