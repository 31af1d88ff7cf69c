package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"visiond/internal/proxy"
	"visiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Predict(ctx context.Context, req proxy.PredictionRequest) iter.Seq2[string, error]
	Health() types.HealthCheck
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	r.Post("/predictions", predictHandler(svc))

	r.Get("/health-check", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Health()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func predictHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var body types.PredictionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req, err := toRequest(body.Input)
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		if err := req.Validate(); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		id := body.ID
		if id == "" {
			id = uuid.NewString()
		}

		lvl := requestLogLevel(r)
		log := zlog.With().Str("prediction_id", id).Logger()
		if rid := middleware.GetReqID(r.Context()); rid != "" {
			log = log.With().Str("request_id", rid).Logger()
		}
		start := time.Now()
		if lvl >= LevelInfo {
			log.Info().Int("image_bytes", len(req.Image)).Float64("temperature", req.Temperature).Float64("top_p", req.TopP).Int("max_tokens", req.MaxTokens).Msg("predict start")
		}

		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		next, stop := iter.Pull2(svc.Predict(ctx, req))
		defer stop()

		// Errors before the first fragment still get a proper status code.
		frag, err, ok := next()
		if ok && err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			status := statusFor(err)
			writeJSONError(w, status, err.Error())
			if lvl >= LevelError {
				log.Warn().Err(err).Int("status", status).Dur("dur", time.Since(start)).Msg("predict end")
			}
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("X-Prediction-Id", id)
		flush := func() {}
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(w)
		fragments := 0
		for ok && err == nil {
			fragments++
			if lvl >= LevelDebug {
				log.Debug().Str("output", frag).Msg("predict>")
			}
			if werr := enc.Encode(types.PredictionLine{ID: id, Output: frag}); werr != nil {
				return
			}
			flush()
			frag, err, ok = next()
		}

		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				if lvl >= LevelInfo {
					log.Info().Int("fragments", fragments).Dur("dur", time.Since(start)).Msg("predict canceled")
				}
				return
			}
			_ = enc.Encode(types.PredictionLine{ID: id, Status: types.StatusFailed, Error: err.Error()})
			flush()
			if lvl >= LevelError {
				log.Error().Err(err).Int("fragments", fragments).Dur("dur", time.Since(start)).Msg("predict end")
			}
			return
		}
		_ = enc.Encode(types.PredictionLine{ID: id, Status: types.StatusSucceeded})
		flush()
		if lvl >= LevelInfo {
			log.Info().Str("status", types.StatusSucceeded).Int("fragments", fragments).Dur("dur", time.Since(start)).Msg("predict end")
		}
	}
}

// toRequest maps the wire input onto a proxy request, applying defaults for
// omitted sampling parameters.
func toRequest(in types.PredictionInput) (proxy.PredictionRequest, error) {
	img, err := decodeImage(in.Image)
	if err != nil {
		return proxy.PredictionRequest{}, err
	}
	var opts []proxy.Option
	if in.Temperature != nil {
		opts = append(opts, proxy.WithTemperature(*in.Temperature))
	}
	if in.TopP != nil {
		opts = append(opts, proxy.WithTopP(*in.TopP))
	}
	if in.MaxTokens != nil {
		opts = append(opts, proxy.WithMaxTokens(*in.MaxTokens))
	}
	return proxy.NewRequest(img, in.Prompt, opts...), nil
}

// decodeImage accepts plain base64 or a data URI.
func decodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &proxy.RequestError{Field: "image", Msg: "image is required"}
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.HasSuffix(s[:i], ";base64") {
			return nil, &proxy.RequestError{Field: "image", Msg: "data URI must be base64 encoded"}
		}
		s = s[i+1:]
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if b, rerr := base64.RawStdEncoding.DecodeString(s); rerr == nil {
			return b, nil
		}
		return nil, &proxy.RequestError{Field: "image", Msg: "invalid base64: " + err.Error()}
	}
	return b, nil
}

// NewServer returns an http.Server for the mux with the timeouts suited to
// long-lived prediction streams: no write timeout.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
