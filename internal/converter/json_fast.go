package converter

import "github.com/bytedance/sonic"

// fastJSON is the JSON codec this package's transformers marshal and
// unmarshal every request/response body and streaming chunk through — the
// one genuinely hot path in the whole converter matrix, run once per
// proxied call in each direction plus once per SSE chunk while streaming.
var fastJSON = sonic.ConfigFastest
