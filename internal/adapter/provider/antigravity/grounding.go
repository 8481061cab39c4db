package antigravity

import (
	"fmt"
	"strings"
)

// renderGroundingMarkdown turns Google Search grounding data into the
// markdown citation block appended after a response that used the
// web_search tool. Shared by the streaming and non-streaming response
// paths so the citation formatting can't drift between the two.
func renderGroundingMarkdown(queries []string, chunks []GeminiGroundingChunk) string {
	var b strings.Builder

	if len(queries) > 0 {
		b.WriteString("\n\n---\n**🔍 已为您搜索：** ")
		b.WriteString(strings.Join(queries, ", "))
	}

	if len(chunks) > 0 {
		var links []string
		for i, chunk := range chunks {
			if chunk.Web == nil {
				continue
			}
			title := chunk.Web.Title
			if title == "" {
				title = "网页来源"
			}
			uri := chunk.Web.URI
			if uri == "" {
				uri = "#"
			}
			links = append(links, fmt.Sprintf("[%d] [%s](%s)", i+1, title, uri))
		}
		if len(links) > 0 {
			b.WriteString("\n\n**🌐 来源引文：**\n")
			b.WriteString(strings.Join(links, "\n"))
		}
	}

	return b.String()
}
