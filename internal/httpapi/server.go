package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seqmon/internal/rpc"
	"seqmon/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
// *monitor.Monitor is the production implementation.
type Service interface {
	Status() types.StatusResponse
	Positions() []types.Position
	PositionStatus(name string) (types.PositionStatus, bool)
	Yield(name string) ([]types.YieldPoint, bool)
	DutyTime(name string) (types.DutyTimeSnapshot, bool)
	ChannelStates(name string) (types.ChannelStatesSnapshot, bool)
	Topology(name string) (types.ChannelTopology, bool)
	Histogram(ctx context.Context, name string, opts *rpc.HistogramOptions) (types.HistogramView, error)
	Pause(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	StopAcquisition(ctx context.Context, name string) error
	StopProtocol(ctx context.Context, name string) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"positions": svc.Positions()})
	})

	r.Route("/positions/{name}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			status, ok := svc.PositionStatus(name)
			if !ok {
				writeJSONError(w, http.StatusNotFound, "position not found: "+name)
				return
			}
			writeJSON(w, status)
		})

		r.Get("/yield", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			points, ok := svc.Yield(name)
			if !ok {
				writeJSONError(w, http.StatusNotFound, "no yield data for position: "+name)
				return
			}
			writeJSON(w, map[string]any{"points": points})
		})

		r.Get("/histogram", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			opts, err := histogramOptionsFromQuery(r)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			view, err := svc.Histogram(r.Context(), name, opts)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, view)
		})

		r.Get("/dutytime", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			snap, ok := svc.DutyTime(name)
			if !ok {
				writeJSONError(w, http.StatusNotFound, "no duty-time data for position: "+name)
				return
			}
			writeJSON(w, snap)
		})

		r.Get("/channels", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			snap, ok := svc.ChannelStates(name)
			if !ok {
				writeJSONError(w, http.StatusNotFound, "no channel data for position: "+name)
				return
			}
			writeJSON(w, snap)
		})

		r.Get("/topology", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			topo, ok := svc.Topology(name)
			if !ok {
				writeJSONError(w, http.StatusNotFound, "no topology for position: "+name)
				return
			}
			writeJSON(w, topo)
		})

		r.Post("/pause", actionHandler(svc.Pause))
		r.Post("/resume", actionHandler(svc.Resume))
		r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
			name := chi.URLParam(r, "name")
			action := svc.StopAcquisition
			if r.URL.Query().Get("protocol") == "true" {
				action = svc.StopProtocol
			}
			if err := action(r.Context(), name); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, map[string]any{"ok": true})
		})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func actionHandler(action func(ctx context.Context, name string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := action(r.Context(), name); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

// histogramOptionsFromQuery parses exclude_outliers plus an optional
// start/end pair. Nil means "serve whatever is cached".
func histogramOptionsFromQuery(r *http.Request) (*rpc.HistogramOptions, error) {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil, nil
	}

	opts := &rpc.HistogramOptions{ExcludeOutliers: true}
	if v := q.Get("exclude_outliers"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &queryError{param: "exclude_outliers", value: v}
		}
		opts.ExcludeOutliers = b
	}

	start, end := q.Get("start"), q.Get("end")
	if (start == "") != (end == "") {
		return nil, &queryError{param: "start/end", value: "both must be given together"}
	}
	if start != "" {
		s, err := strconv.ParseUint(start, 10, 64)
		if err != nil {
			return nil, &queryError{param: "start", value: start}
		}
		e, err := strconv.ParseUint(end, 10, 64)
		if err != nil {
			return nil, &queryError{param: "end", value: end}
		}
		if e <= s {
			return nil, &queryError{param: "start/end", value: "end must be greater than start"}
		}
		opts.Range = &types.BucketRange{Start: s, End: e}
	}
	return opts, nil
}

type queryError struct {
	param string
	value string
}

func (e *queryError) Error() string {
	return "invalid query parameter " + e.param + ": " + e.value
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
