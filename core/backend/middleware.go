package backend

import (
	"math/rand"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/logger"
)

// poweredByMiddleware brands every response.
func poweredByMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", "Pretendo")
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware converts panics into 500 responses.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Errorf("panic serving %s %s: %v\n%s",
					r.Method, r.URL.Path, rec, string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// latencyMiddleware delays the request, fixed or uniform in [min, max].
// The delay is cancellable through the request context.
func latencyMiddleware(opt config.LatencyOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			delay := opt.Fixed
			if delay == 0 && opt.Max >= opt.Min && opt.Max > 0 {
				delay = opt.Min + rand.Intn(opt.Max-opt.Min+1)
			}
			if delay > 0 {
				select {
				case <-time.After(time.Duration(delay) * time.Millisecond):
				case <-r.Context().Done():
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// errorSimulationMiddleware short-circuits requests with a simulated
// error, either randomly at the configured rate or on demand through the
// trigger query parameter.
func errorSimulationMiddleware(opt config.ErrorSimOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opt.QueryParamTrigger != "" {
				if v := r.URL.Query().Get(opt.QueryParamTrigger); v != "" {
					if status, err := strconv.Atoi(v); err == nil && status >= 400 && status < 600 {
						writeError(w, status, "simulated error")
						return
					}
				}
			}
			if opt.Rate > 0 && rand.Float64() < opt.Rate {
				status := opt.StatusCodes[rand.Intn(len(opt.StatusCodes))]
				writeError(w, status, "simulated error")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
