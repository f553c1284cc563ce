package http

import (
	"net/http"

	"taskminder/internal/auth"
	"taskminder/internal/config"
	"taskminder/internal/http/handler"
	mw "taskminder/internal/http/middleware"
	"taskminder/internal/logger"
	"taskminder/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type Deps struct {
	DB      *gorm.DB
	JWT     *auth.JWT
	Tasks   handler.TaskService
	Metrics *metrics.Metrics
	Log     *logger.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.RequestLog(log.WithComponent("http")))
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT, Log: log}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: d.DB}
	r.With(auth.RequireAuth(d.JWT)).Get("/me", me.Me)

	th := &handler.TaskHandler{Svc: d.Tasks, Log: log}
	r.Route("/tasks", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.Get("/", th.List)
		r.Post("/", th.Create)

		r.Get("/{id}", th.Get)
		r.Put("/{id}", th.Update)
		r.Patch("/{id}/complete", th.Complete)
		r.Delete("/{id}", th.Delete)
		r.Get("/{id}/reminder", th.Reminder)
	})

	return r
}
