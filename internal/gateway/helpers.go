package gateway

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/acrgw/aicore-gateway/pkg/apierr"
)

func writeUnauthorized(ctx *fasthttp.RequestCtx) {
	apierr.WriteUnauthorized(ctx)
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
