package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"medminder/internal/ledger"
	"medminder/pkg/models"
)

var validate = validator.New()

var statusColors = map[models.Status]string{
	models.StatusTaken:   "#28a745",
	models.StatusMissed:  "#dc3545",
	models.StatusPending: "#ffc107",
}

type patientOverview struct {
	models.Patient
	Status models.Status `json:"status"`
}

// CalendarEvent is the shape the dashboard calendar widget consumes.
type CalendarEvent struct {
	Title       string `json:"title"`
	Start       string `json:"start"`
	Color       string `json:"color"`
	AllDay      bool   `json:"allDay"`
	Description string `json:"description"`
}

func (s *Server) listPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.Store.ListPatients(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to list patients", err)
		return
	}

	out := make([]patientOverview, 0, len(patients))
	for _, p := range patients {
		st, err := s.Ledger.TodayStatus(r.Context(), p.ID)
		if err != nil {
			s.fail(w, http.StatusInternalServerError, "failed to read status", err)
			return
		}
		out = append(out, patientOverview{Patient: p, Status: st})
	}
	writeJSON(w, http.StatusOK, out)
}

type createPatientRequest struct {
	Name     string `json:"name" validate:"required"`
	Medicine string `json:"medicine" validate:"required"`
	TimeDue  string `json:"time_due" validate:"required,datetime=15:04"`
}

func (s *Server) createPatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Medicine = strings.TrimSpace(req.Medicine)
	req.TimeDue = strings.TrimSpace(req.TimeDue)

	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "name, medicine and time_due (HH:MM) are required")
		return
	}

	created, err := s.Store.CreatePatient(r.Context(), models.Patient{
		Name:      req.Name,
		Medicine:  req.Medicine,
		TimeDue:   req.TimeDue,
		CreatedAt: s.now(),
	})
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to create patient", err)
		return
	}
	s.Logger.Info("👤 patient added", "patient", created.Name, "time_due", created.TimeDue)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getPatient(w http.ResponseWriter, r *http.Request) {
	p, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) patientCalendar(w http.ResponseWriter, r *http.Request) {
	p, ok := s.patientFromPath(w, r)
	if !ok {
		return
	}

	entries, err := s.Store.ListEntries(r.Context(), p.ID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to list logs", err)
		return
	}

	events := make([]CalendarEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, calendarEvent(string(e.Status), e))
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) allCalendar(w http.ResponseWriter, r *http.Request) {
	patients, err := s.Store.ListPatients(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to list patients", err)
		return
	}
	names := make(map[int64]string, len(patients))
	for _, p := range patients {
		names[p.ID] = p.Name
	}

	entries, err := s.Store.ListAllEntries(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to list logs", err)
		return
	}

	events := make([]CalendarEvent, 0, len(entries))
	for _, e := range entries {
		title := fmt.Sprintf("%s: %s", names[e.PatientID], e.Status)
		events = append(events, calendarEvent(title, e))
	}
	writeJSON(w, http.StatusOK, events)
}

func calendarEvent(title string, e models.LogEntry) CalendarEvent {
	desc := e.Notes
	if e.TimeTaken != nil {
		desc = strings.TrimSpace(fmt.Sprintf("Taken at %s. %s", *e.TimeTaken, e.Notes))
	}
	return CalendarEvent{
		Title:       title,
		Start:       e.Day,
		Color:       statusColors[e.Status],
		AllDay:      true,
		Description: desc,
	}
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	day := s.Ledger.Today()
	n, err := s.Store.DeleteDay(r.Context(), day)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to reset day", err)
		return
	}
	s.Logger.Warn("🧹 today's log reset by admin", "day", day, "deleted", n)
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "day": day, "deleted": n})
}

func (s *Server) alerts(w http.ResponseWriter, r *http.Request) {
	feed := s.Alerts.Recent()
	if feed == nil {
		feed = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	lines := s.Logs.Lines()
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": lines})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := map[string]any{
		"active_clients": s.Hub.ClientCount(),
		"uptime":         formatDuration(s.now().Sub(s.started)),
		"db_status":      s.Store.Ping(ctx) == nil,
		"firebase_ok":    s.PushEnabled,
		"active_cycle":   nil,
		"timestamp":      s.now().Unix(),
	}
	if c := s.Cycles.Active(); c != nil {
		response["active_cycle"] = c.Snapshot()
	}
	if s.Workers != nil {
		response["workers"] = s.Workers.GetStats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK
	if err := s.Store.Ping(ctx); err != nil {
		s.Logger.Warn("⚠️ health check failed", "err", err)
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]string{
		"status": status,
		"time":   s.now().Format(time.RFC3339),
	})
}

func (s *Server) patientFromPath(w http.ResponseWriter, r *http.Request) (*models.Patient, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return nil, false
	}

	p, err := s.Store.GetPatient(r.Context(), id)
	if errors.Is(err, ledger.ErrPatientNotFound) {
		writeError(w, http.StatusNotFound, "patient not found")
		return nil, false
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "failed to get patient", err)
		return nil, false
	}
	return p, true
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string, err error) {
	s.Logger.Error("❌ "+msg, "err", err)
	writeError(w, code, msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
