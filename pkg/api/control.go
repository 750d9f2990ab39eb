package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/orbitpay/keeper/pkg/metering"
	"github.com/orbitpay/keeper/pkg/sweep"
)

// Controller is the slice of the sweep engine the control API drives.
type Controller interface {
	Start() error
	Stop() error
	Status() sweep.Status
}

// ControlService exposes start/stop/status to process supervision. It is
// an operator surface, not an end-user API.
type ControlService struct {
	engine Controller
	meter  metering.Meter
	logger *slog.Logger
}

// NewControlService creates the control surface over a sweep engine.
func NewControlService(engine Controller, meter metering.Meter) *ControlService {
	return &ControlService{
		engine: engine,
		meter:  meter,
		logger: slog.Default().With("component", "api.control"),
	}
}

// Handler returns the routed control API wrapped in rate limiting and auth.
func (s *ControlService) Handler(apiSecret string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control/start", s.HandleStart)
	mux.HandleFunc("/control/stop", s.HandleStop)
	mux.HandleFunc("/control/status", s.HandleStatus)
	mux.HandleFunc("/healthz", s.HandleHealth)

	limiter := NewGlobalRateLimiter(10, 20)
	return limiter.Middleware(RequireAuth(apiSecret)(mux))
}

// HandleStart handles POST /control/start.
func (s *ControlService) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if err := s.engine.Start(); err != nil {
		if errors.Is(err, sweep.ErrAlreadyRunning) {
			WriteConflict(w, "Engine already running")
			return
		}
		WriteInternal(w, err)
		return
	}
	s.logger.Info("engine started via control api")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"running": true})
}

// HandleStop handles POST /control/stop.
func (s *ControlService) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if err := s.engine.Stop(); err != nil {
		if errors.Is(err, sweep.ErrNotRunning) {
			WriteConflict(w, "Engine not running")
			return
		}
		WriteInternal(w, err)
		return
	}
	s.logger.Info("engine stopped via control api")
	writeJSON(w, map[string]bool{"running": false})
}

// StatusResponse is the body of GET /control/status.
type StatusResponse struct {
	sweep.Status
	Usage map[metering.EventType]int64 `json:"usage,omitempty"`
}

// HandleStatus handles GET /control/status.
func (s *ControlService) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	resp := StatusResponse{Status: s.engine.Status()}
	if s.meter != nil {
		totals, err := s.meter.Totals(r.Context())
		if err != nil {
			s.logger.Warn("usage totals unavailable", "error", err)
		} else {
			resp.Usage = totals
		}
	}
	writeJSON(w, resp)
}

// HandleHealth handles GET /healthz for liveness probes.
func (s *ControlService) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
