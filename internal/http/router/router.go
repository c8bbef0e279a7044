package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/tgscan-bot/tgscan/internal/http/response"
)

type Dependencies struct {
	DB             *gorm.DB
	EnableOTelHTTP bool
}

// NewRouter builds the liveness surface. Deployment platforms probe `/` on
// the advertised port, so it answers the same as /health/live.
func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	live := func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Bot is running"))
	}
	r.Get("/", live)
	r.Get("/health/live", live)

	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if dep.DB == nil {
			response.Ready(w, req)
			return
		}
		sqlDB, err := dep.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(req.Context())
		}
		if err != nil {
			response.Unready(w, req, err)
			return
		}
		response.Ready(w, req, "database")
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(h, "http.server")
	}
	return h
}
