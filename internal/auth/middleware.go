package auth

import (
	"github.com/nimasrn/cod-ledger/internal/model"
	xhttp "github.com/nimasrn/cod-ledger/pkg/http"
)

const principalKey = "cod.principal"

// Middleware rejects requests without a valid token and stores the caller on the request.
func Middleware(a *Authenticator) func(next xhttp.RequestHandler) xhttp.RequestHandler {
	return func(next xhttp.RequestHandler) xhttp.RequestHandler {
		return func(ctx *xhttp.RequestCtx) {
			p, err := a.Verify(string(ctx.Request.Header.Peek("Authorization")))
			if err != nil {
				ctx.SetContentType("application/json")
				ctx.SetStatusCode(xhttp.StatusUnauthorized)
				ctx.SetBodyString(`{"error":{"code":"unauthenticated","kind":"authorization_error","message":"missing or invalid credentials"}}`)
				return
			}
			SetPrincipal(ctx, p)
			next(ctx)
		}
	}
}

func SetPrincipal(ctx *xhttp.RequestCtx, p model.Principal) {
	ctx.SetUserValue(principalKey, p)
}

func PrincipalFrom(ctx *xhttp.RequestCtx) (model.Principal, bool) {
	p, ok := ctx.UserValue(principalKey).(model.Principal)
	return p, ok
}
