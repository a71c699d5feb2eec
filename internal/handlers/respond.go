package handlers

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nimasrn/cod-ledger/internal/auth"
	"github.com/nimasrn/cod-ledger/internal/model"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
	"github.com/nimasrn/cod-ledger/pkg/logger"
)

type errorBody struct {
	Code    model.Code `json:"code"`
	Kind    model.Kind `json:"kind"`
	Message string     `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

// writeError renders err in the public error shape. Causes are logged, never sent.
func writeError(ctx *xhttp.RequestCtx, err error) {
	e := model.AsError(err)
	status := statusFor(e)

	switch e.Kind {
	case model.KindInternal, model.KindConsistency:
		logger.Error("request failed", "path", string(ctx.Path()), "code", e.Code, "error", err)
	case model.KindExternal:
		logger.Warn("dependency failed", "path", string(ctx.Path()), "code", e.Code, "error", err)
	}

	msg := e.Message
	if e.Kind == model.KindInternal {
		msg = model.ErrInternal.Message
	}
	writeJSON(ctx, status, errorResponse{Error: errorBody{Code: e.Code, Kind: e.Kind, Message: msg}})
}

func badRequest(ctx *xhttp.RequestCtx, msg string) {
	writeError(ctx, model.ErrInvalidRequest.WithMessage("%s", msg))
}

func statusFor(e *model.Error) int {
	switch e.Kind {
	case model.KindValidation:
		return xhttp.StatusBadRequest
	case model.KindAuthorization:
		if e.Code == model.CodeUnauthenticated {
			return xhttp.StatusUnauthorized
		}
		return xhttp.StatusForbidden
	case model.KindNotFound:
		return xhttp.StatusNotFound
	case model.KindConflict:
		return xhttp.StatusConflict
	case model.KindRateLimited:
		return xhttp.StatusTooManyRequests
	case model.KindExternal:
		return xhttp.StatusBadGateway
	}
	return xhttp.StatusInternalServerError
}

// principal returns the authenticated caller or answers 401.
func principal(ctx *xhttp.RequestCtx) (model.Principal, bool) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		writeError(ctx, model.ErrUnauthenticated)
	}
	return p, ok
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	raw, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(raw, 10, 64)
}

// rawText accepts a JSON string or a bare JSON literal and returns its text.
func rawText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
