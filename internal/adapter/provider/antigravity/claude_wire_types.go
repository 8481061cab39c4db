package antigravity

// ClaudeRequest is the Anthropic Messages API request this adapter
// accepts at its front door, before translation to Gemini's v1internal
// wire format.
type ClaudeRequest struct {
	Model        string          `json:"model"`
	MaxTokens    int             `json:"max_tokens,omitempty"`
	Messages     []ClaudeMessage `json:"messages"`
	System       interface{}     `json:"system,omitempty"` // string or []SystemBlock
	Tools        []ClaudeTool    `json:"tools,omitempty"`
	Temperature  *float64        `json:"temperature,omitempty"`
	TopP         *float64        `json:"top_p,omitempty"`
	TopK         *int            `json:"top_k,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
	Thinking     *ThinkingConfig `json:"thinking,omitempty"`
	OutputConfig *OutputConfig   `json:"output_config,omitempty"`
	Metadata     *Metadata       `json:"metadata,omitempty"`
}

// ClaudeMessage is a single turn. Content is either a plain string or a
// []ContentBlock depending on whether the client sent simple text or a
// structured message.
type ClaudeMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentBlock covers every block shape Claude's content arrays can carry:
// text, thinking, redacted_thinking, tool_use, tool_result, image, document.
type ContentBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	Thinking     string                 `json:"thinking,omitempty"`
	Data         string                 `json:"data,omitempty"` // for redacted_thinking
	Signature    string                 `json:"signature,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Input        map[string]interface{} `json:"input,omitempty"`
	ToolUseID    string                 `json:"tool_use_id,omitempty"`
	Content      interface{}            `json:"content,omitempty"` // tool_result content
	IsError      *bool                  `json:"is_error,omitempty"`
	Source       *ImageSource           `json:"source,omitempty"`
	CacheControl *CacheControl          `json:"cache_control,omitempty"`
}

// ClaudeTool is a tool definition, including server tools like
// "web_search_20250305" that carry no input_schema of their own.
type ClaudeTool struct {
	Type         string                 `json:"type,omitempty"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	CacheControl *CacheControl          `json:"cache_control,omitempty"`
}

// ThinkingConfig requests extended thinking; Type is "enabled" when present.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens *int   `json:"budget_tokens,omitempty"`
}

// OutputConfig carries the effort hint ("high", "medium", "low") mapped
// onto Gemini's generationConfig.effortLevel.
type OutputConfig struct {
	Effort string `json:"effort,omitempty"`
}

// Metadata carries caller-supplied request metadata.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// ImageSource is an inline base64 image attachment.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// CacheControl marks a block as eligible for prompt caching. It is always
// stripped before reaching Gemini, which has no equivalent concept.
type CacheControl struct {
	Type string `json:"type"`
}
