package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"mediaguard/internal/conf"
	"mediaguard/internal/observability"
	"mediaguard/internal/service"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OperationAnalyseImage  = "/mediaguard.v1.Moderation/AnalyseImage"
	OperationAnalyseVideo  = "/mediaguard.v1.Moderation/AnalyseVideo"
	OperationAnalyseImages = "/mediaguard.v1.Moderation/AnalyseImages"
	OperationListRecords   = "/mediaguard.v1.Admin/ListRecords"
	OperationRebuildIndex  = "/mediaguard.v1.Admin/RebuildIndex"
)

// NewHTTPServer creates the HTTP server with the analysis, admin and ops
// routes.
func NewHTTPServer(c *conf.Server, mod *service.ModerationService, admin *service.AdminService, logger log.Logger) *khttp.Server {
	opts := []khttp.ServerOption{
		khttp.Middleware(
			recovery.Recovery(),
			logging.Server(logger),
			metrics(),
		),
	}
	if c != nil && c.HTTP != nil {
		if c.HTTP.Network != "" {
			opts = append(opts, khttp.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, khttp.Address(c.HTTP.Addr))
		}
		if d := c.HTTP.Timeout.AsDuration(); d > 0 {
			opts = append(opts, khttp.Timeout(d))
		}
	}
	srv := khttp.NewServer(opts...)

	srv.Handle("/metrics", promhttp.Handler())
	srv.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r := srv.Route("/v1")
	r.POST("/analyse/image", handle(OperationAnalyseImage, bindBody, mod.AnalyseImage))
	r.POST("/analyse/video", handle(OperationAnalyseVideo, bindBody, mod.AnalyseVideo))
	r.POST("/analyse/images/batch", handle(OperationAnalyseImages, bindBody, mod.AnalyseImages))
	r.GET("/records", handle(OperationListRecords, bindQuery, admin.ListRecords))
	r.POST("/index/rebuild", handle(OperationRebuildIndex, bindBody, admin.RebuildIndex))
	return srv
}

func bindBody(ctx khttp.Context, v any) error  { return ctx.Bind(v) }
func bindQuery(ctx khttp.Context, v any) error { return ctx.BindQuery(v) }

// handle adapts a service method to a route, running it through the
// server middleware chain under op.
func handle[In, Out any](op string, bind func(khttp.Context, any) error, call func(context.Context, *In) (Out, error)) khttp.HandlerFunc {
	return func(ctx khttp.Context) error {
		var in In
		if err := bind(ctx, &in); err != nil {
			return err
		}
		khttp.SetOperation(ctx, op)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(*In))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(http.StatusOK, out)
	}
}

func metrics() middleware.Middleware {
	return func(next middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			var op string
			if tr, ok := transport.FromServerContext(ctx); ok {
				op = tr.Operation()
			}
			reply, err := next(ctx, req)
			code := http.StatusOK
			if err != nil {
				code = int(errors.FromError(err).Code)
			}
			observability.HTTPRequestDuration.WithLabelValues(op, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
			return reply, err
		}
	}
}
