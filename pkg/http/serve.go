package xhttp

import (
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/cod-ledger/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

type ServerOption struct {
	// idle keep-alive connections are closed after this long to avoid running out of file handles
	IdleTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	// request bodies above this are rejected before reaching a handler
	MaxRequestBodySize int

	Concurrency   int
	MaxConnsPerIP int
	Name          string
}

var DefaultServerOption = ServerOption{
	IdleTimeout:        10 * time.Second,
	ReadTimeout:        2500 * time.Millisecond,
	WriteTimeout:       2500 * time.Millisecond,
	ReadBufferSize:     4 * 1024,
	WriteBufferSize:    4 * 1024,
	MaxRequestBodySize: 1 * 1024 * 1024,
	Concurrency:        30_000,
	MaxConnsPerIP:      10_000,
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Router: CreateDefaultRouter(),
		Server: &fasthttp.Server{
			Name:                          options.Name,
			Concurrency:                   options.Concurrency,
			ReadBufferSize:                options.ReadBufferSize,
			WriteBufferSize:               options.WriteBufferSize,
			ReadTimeout:                   options.ReadTimeout,
			WriteTimeout:                  options.WriteTimeout,
			IdleTimeout:                   options.IdleTimeout,
			MaxConnsPerIP:                 options.MaxConnsPerIP,
			MaxRequestBodySize:            options.MaxRequestBodySize,
			TCPKeepalive:                  true,
			DisablePreParseMultipartForm:  true,
			NoDefaultServerHeader:         true,
			NoDefaultDate:                 true,
			CloseOnShutdown:               true,
			SecureErrorLogMessage:         true,
			DisableHeaderNamesNormalizing: false,
			Logger:                        logger.GetLogger(),
			ErrorHandler: func(ctx *RequestCtx, err error) {
				logger.Warn("[xhttp] connection error", "error", err)
				ctx.Error(StatusText(StatusBadRequest), StatusBadRequest)
			},
		},
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// Handler builds the final handler chain without binding a socket; tests serve it over fasthttputil.
func (e *Engine) Handler() RequestHandler {
	e.DoRouting()
	return e.Server.Handler
}

func (e *Engine) DoRouting() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}
	h := e.Router.Handler
	// the first registered middleware is the outermost
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for _, m := range chain {
		h = m(h)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = h
}

// Use appends a middleware; middlewares run in registration order.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
