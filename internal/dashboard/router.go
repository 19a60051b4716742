// Package dashboard serves the caregiver dashboard's JSON API.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"medminder/internal/middleware"
	"medminder/internal/reminder"
	"medminder/internal/workers"
	"medminder/pkg/models"
)

type Store interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
	GetPatient(ctx context.Context, id int64) (*models.Patient, error)
	CreatePatient(ctx context.Context, p models.Patient) (models.Patient, error)
	ListEntries(ctx context.Context, patientID int64) ([]models.LogEntry, error)
	ListAllEntries(ctx context.Context) ([]models.LogEntry, error)
	DeleteDay(ctx context.Context, day string) (int64, error)
	Ping(ctx context.Context) error
}

type Ledger interface {
	Today() string
	TodayStatus(ctx context.Context, patientID int64) (models.Status, error)
}

type Alerts interface {
	Recent() []models.Alert
}

type Logs interface {
	Lines() []string
}

type Hub interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

type Cycles interface {
	Active() *reminder.Cycle
}

type Workers interface {
	GetStats() workers.WorkerStats
}

// Deps wires the dashboard to the running device. Workers and WebDir are
// optional.
type Deps struct {
	Store       Store
	Ledger      Ledger
	Alerts      Alerts
	Logs        Logs
	Hub         Hub
	Cycles      Cycles
	Workers     Workers
	Admin       *middleware.AdminMiddleware
	PushEnabled bool
	WebDir      string
	Logger      *slog.Logger
}

type Server struct {
	Deps
	started time.Time
	now     func() time.Time
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Admin == nil {
		d.Admin = middleware.NewAdminMiddleware("", d.Logger)
	}
	return &Server{Deps: d, started: time.Now(), now: time.Now}
}

// Router builds the full HTTP surface, CORS included.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.Hub.ServeWS)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/patients", s.listPatients).Methods(http.MethodGet)
	api.HandleFunc("/patients", s.createPatient).Methods(http.MethodPost)
	api.HandleFunc("/patients/{id:[0-9]+}", s.getPatient).Methods(http.MethodGet)
	api.HandleFunc("/patients/{id:[0-9]+}/logs", s.patientCalendar).Methods(http.MethodGet)
	api.HandleFunc("/logs/all", s.allCalendar).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.logs).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.alerts).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.Admin.RequireAdmin)
	admin.HandleFunc("/reset", s.reset).Methods(http.MethodPost)

	if s.WebDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.WebDir)))
	}

	return middleware.CORS(router)
}
