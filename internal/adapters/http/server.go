// Package httpadapter exposes the flag aggregate, bulk coordinator and
// export pipeline over HTTP.
package httpadapter

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"redflag/internal/ports"
)

const actorHeader = "X-Actor-ID"

type Server struct {
	flags    ports.Flags
	bulk     ports.Bulk
	exporter ports.Exporter
	events   http.Handler
	log      logrus.FieldLogger
}

// New builds the server. events may be nil, in which case /api/v1/events is
// not mounted.
func New(flags ports.Flags, bulk ports.Bulk, exporter ports.Exporter, events http.Handler, log logrus.FieldLogger) *Server {
	return &Server{flags: flags, bulk: bulk, exporter: exporter, events: events, log: log}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: s.log, NoColor: true}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/flags", func(r chi.Router) {
			r.Post("/", s.createFlag)
			r.Get("/", s.listFlags)
			r.With(s.requireActor).Post("/bulk", s.applyBulk)
			r.Post("/export", s.exportFlags)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getFlag)
				r.Get("/transitions", s.allowedTransitions)
				r.Get("/evidence", s.listEvidence)
				r.Post("/evidence", s.addEvidence)
				r.Get("/actions", s.listActions)

				r.Group(func(r chi.Router) {
					r.Use(s.requireActor)
					r.Post("/status", s.changeStatus)
					r.Post("/assign", s.assign)
					r.Post("/notes", s.addNote)
					r.Post("/snooze", s.snooze)
					r.Post("/remediation", s.recordRemediation)
					r.Post("/override", s.override)
				})
			})
		})

		r.Get("/exports/{jobId}", s.getExportJob)
		r.Get("/exports/{jobId}/download", s.downloadExport)

		if s.events != nil {
			r.Handle("/events", s.events)
		}
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(actorHeader) == "" {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", actorHeader+" header is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actor(r *http.Request) string { return r.Header.Get(actorHeader) }
