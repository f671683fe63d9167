// Package api serves the live tracking view over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/unrolled/logger"

	"schoolbus-tracker/internal/fleet"
	"schoolbus-tracker/internal/live"
	"schoolbus-tracker/internal/status"
)

const (
	defaultZoom = 13
	maxZoom     = 22
)

type Options struct {
	CORSOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics   http.Handler
	AccessLog bool
}

type handlers struct {
	view *fleet.View
}

// NewRouter wires the fleet endpoints. hub may be nil, in which case /api/ws
// is not served.
func NewRouter(view *fleet.View, hub *live.Hub, opts Options) http.Handler {
	h := handlers{view: view}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	if opts.AccessLog {
		r.Use(logger.New(logger.Options{Prefix: "tracker"}).Handler)
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/fleet", h.fleet)
		r.Get("/markers", h.markers)
		r.Get("/clusters", h.clusters)
		r.Get("/trips", h.trips)
		r.Get("/trips/{tripID}", h.trip)
		if hub != nil {
			r.Get("/ws", hub.Handler())
		}
	})
	return r
}

// fleet serves GET /api/fleet?q=&status=.
func (h handlers) fleet(w http.ResponseWriter, r *http.Request) {
	filter, err := status.ParseFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	all := h.view.Rows("", status.DisplayAll)
	writeJSON(w, http.StatusOK, fleetPayload(all, r.URL.Query().Get("q"), filter))
}

func (h handlers) markers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.view.Markers())
}

// clusters serves GET /api/clusters?zoom=.
func (h handlers) clusters(w http.ResponseWriter, r *http.Request) {
	zoom := defaultZoom
	if raw := r.URL.Query().Get("zoom"); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil || z < 0 || z > maxZoom {
			writeError(w, http.StatusBadRequest, "zoom must be an integer between 0 and 22")
			return
		}
		zoom = z
	}
	writeJSON(w, http.StatusOK, h.view.Clusters(zoom))
}

func (h handlers) trips(w http.ResponseWriter, r *http.Request) {
	trips := h.view.Trips()
	out := make([]TripDetailView, 0, len(trips))
	for _, t := range trips {
		d, ok := h.view.TripDetail(t.TripID)
		if !ok {
			continue
		}
		out = append(out, tripDetailView(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h handlers) trip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tripID")
	d, ok := h.view.TripDetail(id)
	if !ok {
		writeError(w, http.StatusNotFound, "trip not found")
		return
	}
	writeJSON(w, http.StatusOK, tripDetailView(d))
}
