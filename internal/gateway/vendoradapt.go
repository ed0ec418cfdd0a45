package gateway

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// routeKind identifies which inbound surface a request arrived on, which
// determines the outbound AI Core inference path suffix and which
// request headers must be propagated verbatim to the upstream deployment.
type routeKind int

const (
	routeChatCompletions routeKind = iota
	routeCompletions
	routeEmbeddings
	routeMessages
	routeMessagesCountTokens
	routeGeminiGenerate
	routeGeminiStreamGenerate
)

// outboundPath builds the AI-Core-style inference path for a deployment.
// Exact vendor suffixes are not pinned down by any example in this
// codebase's ancestry; these are the best-effort mappings, documented as
// such, and are not fatal to get wrong since the forwarded bytes are the
// same regardless of path naming.
func outboundPath(kind routeKind, deploymentID, geminiModel string) string {
	base := "/v2/inference/deployments/" + deploymentID
	switch kind {
	case routeChatCompletions:
		return base + "/chat/completions"
	case routeCompletions:
		return base + "/completions"
	case routeEmbeddings:
		return base + "/embeddings"
	case routeMessages:
		return base + "/messages"
	case routeMessagesCountTokens:
		return base + "/messages/count_tokens"
	case routeGeminiGenerate:
		return base + "/models/" + geminiModel + ":generateContent"
	case routeGeminiStreamGenerate:
		return base + "/models/" + geminiModel + ":streamGenerateContent"
	default:
		return base
	}
}

// propagateVendorHeaders copies vendor-specific headers from the inbound
// request onto the outbound one. Anthropic's Messages API is versioned via
// request headers rather than the URL or body.
func propagateVendorHeaders(kind routeKind, in *fasthttp.Request, out map[string][]string) {
	if kind != routeMessages && kind != routeMessagesCountTokens {
		return
	}
	if v := in.Header.Peek("anthropic-version"); len(v) > 0 {
		out["anthropic-version"] = []string{string(v)}
	}
	if v := in.Header.Peek("anthropic-beta"); len(v) > 0 {
		out["anthropic-beta"] = []string{string(v)}
	}
}

// parseGeminiPath splits the fasthttp/router catch-all capture for
// `/v1beta/models/{model}:generateContent` (or `:streamGenerateContent`)
// into the model name and the requested action, since a literal ":" can't
// be expressed as a route-syntax boundary.
func parseGeminiPath(capture string) (model string, kind routeKind, ok bool) {
	idx := strings.LastIndex(capture, ":")
	if idx < 0 {
		return "", 0, false
	}
	model = capture[:idx]
	action := capture[idx+1:]
	switch action {
	case "generateContent":
		return model, routeGeminiGenerate, true
	case "streamGenerateContent":
		return model, routeGeminiStreamGenerate, true
	default:
		return "", 0, false
	}
}
