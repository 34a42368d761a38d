// Package httprouter exposes the service over HTTP and a websocket event stream.
package httprouter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"mediagrab/internal/config"
	"mediagrab/internal/consts"
	"mediagrab/internal/errs"
	"mediagrab/internal/infrastructure/delivery/http/middleware"
	"mediagrab/internal/infrastructure/delivery/http/request"
	"mediagrab/internal/infrastructure/delivery/http/response"
	"mediagrab/internal/observability"
	"mediagrab/internal/service"
)

type Router struct {
	*http.ServeMux
	log         *slog.Logger
	cfg         *config.Config
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool
	svc         service.Job
	events      EventSource
	metrics     *observability.Metrics
}

// New builds the router. metrics may be nil.
func New(log *slog.Logger, cfg *config.Config, svc service.Job, events EventSource, metrics *observability.Metrics) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		cfg:      cfg,
		svc:      svc,
		events:   events,
		metrics:  metrics,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
		ServeMux:    r.ServeMux}

	fn(subRouter)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	for _, middleware := range slices.Backward(r.routeChain) {
		h = middleware(h)
	}
	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Metrics(r.metrics),
		middleware.Logger,
	)
}

func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesJob()
	r.SetRoutesUpload()
	r.SetRoutesEvents()

	r.Handle("GET /metrics", observability.Handler())
}

func (r *Router) SetRoutesHealthcheck() {
	r.HandleFunc("GET /v1/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (ro *Router) SetRoutesJob() {
	jobRouter := &Router{
		ServeMux: http.NewServeMux(),
	}
	jobRouter.HandleFunc("POST /enqueue", ro.Enqueue)
	jobRouter.HandleFunc("GET /{$}", ro.GetJobs)
	jobRouter.HandleFunc("GET /{id}", ro.GetJob)
	jobRouter.HandleFunc("DELETE /{id}/cancel", ro.CancelJob)

	ro.Handle("/v1/jobs/", http.StripPrefix("/v1/jobs", jobRouter))
}

func (ro *Router) SetRoutesUpload() {
	uploadRouter := &Router{
		ServeMux: http.NewServeMux(),
	}
	uploadRouter.HandleFunc("POST /configure", ro.ConfigureUpload)
	uploadRouter.HandleFunc("GET /status", ro.UploadStatus)
	uploadRouter.HandleFunc("POST /existing", ro.UploadExisting)

	ro.Handle("/v1/upload/", http.StripPrefix("/v1/upload", uploadRouter))
}

func (ro *Router) SetRoutesEvents() {
	ro.HandleFunc("GET /v1/events", ro.Events)
}

// withTimeout bounds a handler; a non-positive d falls back to the default.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = consts.DefaultHandlerTimeout
	}

	return context.WithTimeout(ctx, d)
}

func (ro *Router) Enqueue(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "Enqueue")
	ctx := r.Context()

	var in request.Enqueue
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		log.ErrorContext(ctx, consts.RespUnprocessableEntity, slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	job, err := ro.svc.Enqueue(ctx, in.URL, in.DownloadRequest())

	switch {
	case errors.Is(err, errs.ErrJobAlreadyExists):
		log.DebugContext(ctx, consts.RespJobAlreadyExists, slog.Any("error", err))
		response.OK(w, consts.RespJobAlreadyExists, job, nil)

		return
	case errors.Is(err, errs.ErrJobQueueFull), errors.Is(err, errs.ErrServiceClosed):
		log.WarnContext(ctx, consts.RespServiceUnavailable, slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespServiceUnavailable, err)

		return
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobEnqueueFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobEnqueueFail, nil, err)

		return
	}

	log.InfoContext(ctx, consts.RespJobEnqueued, slog.String("url", job.URL), slog.String("job_id", job.UUID))

	response.Accepted(w, consts.RespJobEnqueued, job, nil)
}

func (ro *Router) GetJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "GetJob")

	ctx, cancel := withTimeout(r.Context(), ro.cfg.HTTP.HandlerTimeout)
	defer cancel()

	id := r.PathValue("id")
	if id == "" {
		log.ErrorContext(ctx, consts.RespQueryParamMissing)
		response.BadRequest(w, consts.RespQueryParamMissing, nil)

		return
	}

	job := ro.svc.GetByID(ctx, id)
	if job == nil {
		log.DebugContext(ctx, consts.RespJobNotFound, slog.String("job_id", id))
		response.NotFound(w, consts.RespJobNotFound, errs.ErrJobNotFound)

		return
	}

	response.OK(w, consts.RespJobRetrieved, job, nil)
}

func (ro *Router) GetJobs(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "GetJobs")

	ctx, cancel := withTimeout(r.Context(), ro.cfg.HTTP.HandlerTimeout)
	defer cancel()

	jobs, err := ro.svc.GetAll(ctx)
	if errors.Is(err, errs.ErrNoJobs) {
		log.DebugContext(ctx, consts.RespNoJobs)
		response.NoContent(w)

		return
	}

	if err != nil {
		log.ErrorContext(ctx, consts.RespGetJobsFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespGetJobsFail, nil, err)

		return
	}

	response.OK(w, consts.RespJobsRetrieved, jobs, nil)
}

func (ro *Router) CancelJob(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "CancelJob")

	ctx, cancel := withTimeout(r.Context(), ro.cfg.HTTP.HandlerTimeout)
	defer cancel()

	id := r.PathValue("id")

	err := ro.svc.Cancel(ctx, id)

	switch {
	case errors.Is(err, errs.ErrJobNotFound):
		response.NotFound(w, consts.RespJobNotFound, err)
	case errors.Is(err, errs.ErrJobCancelled):
		response.Conflict(w, consts.RespJobCancelFail, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespJobCancelFail, slog.Any("error", err))
		response.InternalServerError(w, consts.RespJobCancelFail, nil, err)
	default:
		log.InfoContext(ctx, consts.RespJobCancelled, slog.String("job_id", id))
		response.OK(w, consts.RespJobCancelled, ro.svc.GetByID(ctx, id), nil)
	}
}

func (ro *Router) ConfigureUpload(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "ConfigureUpload")

	ctx, cancel := withTimeout(r.Context(), ro.cfg.HTTP.HandlerTimeout)
	defer cancel()

	var in request.ConfigureUpload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(); err != nil {
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	err := ro.svc.ConfigureUpload(ctx, in.ConfigureRequest())

	switch {
	case errors.Is(err, errs.ErrUploaderNotConfigured):
		response.ServiceUnavailable(w, consts.RespUploadConfigureFail, err)
	case err != nil:
		// settings are saved even when the connection test fails
		log.WarnContext(ctx, consts.RespUploadConfigureFail, slog.Any("error", err))
		response.BadGateway(w, consts.RespUploadConfigureFail, ro.svc.UploadStatus(), err)
	default:
		response.OK(w, consts.RespUploadConfigured, ro.svc.UploadStatus(), nil)
	}
}

func (ro *Router) UploadStatus(w http.ResponseWriter, _ *http.Request) {
	response.OK(w, consts.RespUploadStatus, ro.svc.UploadStatus(), nil)
}

func (ro *Router) UploadExisting(w http.ResponseWriter, r *http.Request) {
	log := ro.log.With("handler", "UploadExisting")

	ctx, cancel := withTimeout(r.Context(), ro.cfg.HTTP.UploadTimeout)
	defer cancel()

	var in request.UploadExisting
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		log.ErrorContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	if err := in.Validate(ro.cfg.Dir.Downloads); err != nil {
		log.WarnContext(ctx, consts.RespUnprocessableEntity, slog.String("path", in.Path), slog.Any("error", err))
		response.UnprocessableEntity(w, consts.RespUnprocessableEntity, err)

		return
	}

	result, err := ro.svc.UploadExisting(ctx, in.Path, in.Metadata())

	switch {
	case errors.Is(err, errs.ErrUploaderNotConfigured):
		response.Conflict(w, consts.RespUploadFail, err)
	case err != nil:
		log.ErrorContext(ctx, consts.RespUploadFail, slog.String("path", in.Path), slog.Any("error", err))
		response.BadGateway(w, consts.RespUploadFail, result, err)
	default:
		log.InfoContext(ctx, consts.RespUploadDone, slog.String("path", in.Path), slog.Any("result", result))
		response.OK(w, consts.RespUploadDone, result, nil)
	}
}
