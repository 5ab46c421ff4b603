package middleware

import (
	"net/http"
	"time"

	hr "github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"
	"wuyrush.io/vtourist/metrics"
)

type Middleware func(hr.Handle) hr.Handle

// Chain composites given handler and middlewares
func Chain(h hr.Handle, ms ...Middleware) hr.Handle {
	for _, m := range ms {
		h = m(h)
	}
	return h
}

// PanicRecoverer recovers from panic of underlying handlers
func PanicRecoverer() Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panicReason", rec).WithField("path", r.URL.Path).Error("got panic from underlying handler")
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			h(w, r, p)
		}
	}
}

// Timed records the duration of underlying handler under the given handler name
func Timed(name string) Middleware {
	return func(h hr.Handle) hr.Handle {
		return func(w http.ResponseWriter, r *http.Request, p hr.Params) {
			start := time.Now()
			defer func() {
				metrics.HTTPRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}()
			h(w, r, p)
		}
	}
}
