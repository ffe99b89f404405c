package idempotency

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	HeaderKey      = "X-Idempotency-Key"
	HeaderReplayed = "X-Idempotency-Replayed"
)

// Replayer answers a repeated X-Idempotency-Key with the stored response.
// Only 2xx responses are recorded, so a failed intent can be retried under
// the same key.
type Replayer struct {
	Store    Store
	Window   time.Duration
	Now      func() time.Time
	Log      logrus.FieldLogger
	OnReplay func(route string)
}

func (rp *Replayer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderKey)
		if key == "" || rp.Store == nil {
			next.ServeHTTP(w, r)
			return
		}
		route := r.Method + " " + r.URL.Path
		log := rp.logger().WithFields(logrus.Fields{"idempotency_key": key, "route": route})

		rec, err := rp.Store.Get(r.Context(), key)
		if err != nil {
			log.WithError(err).Warn("idempotency lookup failed, serving request")
		}
		if rec != nil {
			if rec.Route != route {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "idempotency key already used for " + rec.Route,
					"kind":  "ValidationFailed",
				})
				return
			}
			if rp.OnReplay != nil {
				rp.OnReplay(route)
			}
			log.Debug("replaying stored response")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Body)
			return
		}

		cw := &capture{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(cw, r)
		if cw.status < 200 || cw.status >= 300 {
			return
		}

		now := rp.now()
		err = rp.Store.Save(r.Context(), key, Record{
			Route:      route,
			StatusCode: cw.status,
			Body:       cw.body.Bytes(),
			CreatedAt:  now,
			ExpiresAt:  now.Add(rp.Window),
		})
		if err != nil {
			log.WithError(err).Warn("idempotency save failed")
		}
	})
}

func (rp *Replayer) now() time.Time {
	if rp.Now != nil {
		return rp.Now()
	}
	return time.Now()
}

func (rp *Replayer) logger() logrus.FieldLogger {
	if rp.Log != nil {
		return rp.Log
	}
	return logrus.StandardLogger()
}

type capture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *capture) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *capture) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
