// Package api serves the read-only roster view and accepts user commands
// that are executed on the update goroutine.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/openrails-go/fleet/internal/coupling"
	"github.com/openrails-go/fleet/internal/handover"
	"github.com/openrails-go/fleet/internal/scheduler"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/snapshot"
	"github.com/openrails-go/fleet/internal/train"
)

// DefaultCommandTimeout bounds how long a command request waits for the
// update goroutine.
const DefaultCommandTimeout = 5 * time.Second

var (
	// ErrStaleTrain is returned when a train reference no longer resolves.
	ErrStaleTrain = errors.New("train reference is stale")
	// ErrUnknownCar is returned when the car is not part of the train.
	ErrUnknownCar = errors.New("car is not in the train")
)

// Frames provides the latest fleet frame.
type Frames interface {
	Current() *snapshot.Frame
}

// Submitter stages commands for the update goroutine.
type Submitter interface {
	Submit(scheduler.Command)
}

// Switcher accepts train switch requests.
type Switcher interface {
	Request(handover.Request)
}

// Dependencies holds everything the router serves.
type Dependencies struct {
	Frames   Frames
	Commands Submitter
	Switcher Switcher
	// Replication is mounted at /replicate when set.
	Replication http.Handler
	// Events is mounted at /events when set.
	Events         http.Handler
	AllowedOrigins []string
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// TrainsResponse is the body of GET /trains.
type TrainsResponse struct {
	Trains        []snapshot.Train `json:"trains"`
	Count         int              `json:"count"`
	RosterVersion uint64           `json:"rosterVersion"`
	SimTime       float64          `json:"simTime"`
}

// SwitchRequest is the body of POST /switch.
type SwitchRequest struct {
	Target          int  `json:"target"`
	SuspendPrevious bool `json:"suspendPrevious"`
}

// UncoupleRequest is the body of POST /uncouple. Train and Name must still
// name the same live train when the command runs.
type UncoupleRequest struct {
	Train     int    `json:"train"`
	Name      string `json:"name"`
	CarID     string `json:"carId"`
	KeepFront *bool  `json:"keepFront,omitempty"`
}

// UncoupleResponse reports the train created by an uncouple.
type UncoupleResponse struct {
	Split    bool `json:"split"`
	NewTrain int  `json:"newTrain"`
	// Requested is set on a replica, where the authority makes the split.
	Requested bool `json:"requested,omitempty"`
}

type handler struct {
	deps Dependencies
}

// NewRouter builds the HTTP routes.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.CommandTimeout <= 0 {
		deps.CommandTimeout = DefaultCommandTimeout
	}
	if len(deps.AllowedOrigins) == 0 {
		deps.AllowedOrigins = []string{"*"}
	}
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/trains", h.getTrains)
	r.Get("/trains/{number}", h.getTrain)
	r.Post("/switch", h.postSwitch)
	r.Post("/uncouple", h.postUncouple)

	if deps.Events != nil {
		r.Handle("/events", deps.Events)
	}
	if deps.Replication != nil {
		r.Handle("/replicate", deps.Replication)
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = map[string]any{"internal": err.Error()}
	}
	writeJSON(w, status, resp)
}

func (h *handler) frame(w http.ResponseWriter) *snapshot.Frame {
	f := h.deps.Frames.Current()
	if f == nil {
		writeError(w, http.StatusServiceUnavailable, "Simulation has not ticked yet", nil)
	}
	return f
}

// getTrains handles GET /trains.
func (h *handler) getTrains(w http.ResponseWriter, r *http.Request) {
	f := h.frame(w)
	if f == nil {
		return
	}
	writeJSON(w, http.StatusOK, TrainsResponse{
		Trains:        f.Trains,
		Count:         len(f.Trains),
		RosterVersion: f.RosterVersion,
		SimTime:       f.Time,
	})
}

// getTrain handles GET /trains/{number}. An optional name query parameter
// must match the train's name, so a reference kept across roster changes
// is not silently resolved to a different train.
func (h *handler) getTrain(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Train number must be an integer", err)
		return
	}
	f := h.frame(w)
	if f == nil {
		return
	}
	t, ok := f.Train(number)
	if name := r.URL.Query().Get("name"); ok && name != "" && !strings.EqualFold(name, t.Name) {
		ok = false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Train not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// postSwitch handles POST /switch.
func (h *handler) postSwitch(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed switch request", err)
		return
	}
	if f := h.deps.Frames.Current(); f != nil {
		if _, ok := f.Train(req.Target); !ok {
			writeError(w, http.StatusNotFound, "Train not found", nil)
			return
		}
	}
	h.deps.Switcher.Request(handover.Request{Target: req.Target, SuspendPrevious: req.SuspendPrevious})
	h.deps.Logger.Info("Train switch requested", "target", req.Target, "suspend", req.SuspendPrevious)
	writeJSON(w, http.StatusAccepted, req)
}

// postUncouple handles POST /uncouple. It waits for the update goroutine
// to run the split.
func (h *handler) postUncouple(w http.ResponseWriter, r *http.Request) {
	var req UncoupleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed uncouple request", err)
		return
	}
	if req.CarID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name and carId are required", nil)
		return
	}
	keepFront := true
	if req.KeepFront != nil {
		keepFront = *req.KeepFront
	}

	type result struct {
		resp UncoupleResponse
		err  error
	}
	done := make(chan result, 1)
	h.deps.Commands.Submit(scheduler.Command{
		Name: "uncouple",
		Run: func(ctx *sim.Context) error {
			resp, err := uncouple(ctx, req, keepFront)
			done <- result{resp, err}
			return err
		},
	})

	timer := time.NewTimer(h.deps.CommandTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		switch {
		case errors.Is(res.err, ErrStaleTrain), errors.Is(res.err, ErrUnknownCar):
			writeError(w, http.StatusNotFound, "Uncouple target not found", res.err)
		case res.err != nil:
			writeError(w, http.StatusConflict, "Uncouple failed", res.err)
		case res.resp.Requested:
			writeJSON(w, http.StatusAccepted, res.resp)
		default:
			writeJSON(w, http.StatusOK, res.resp)
		}
	case <-timer.C:
		writeError(w, http.StatusGatewayTimeout, "Simulation did not run the command in time", nil)
	case <-r.Context().Done():
	}
}

func uncouple(ctx *sim.Context, req UncoupleRequest, keepFront bool) (UncoupleResponse, error) {
	t, ok := ctx.Roster.Lookup(req.Train, req.Name)
	if !ok {
		return UncoupleResponse{}, fmt.Errorf("train %d %q: %w", req.Train, req.Name, ErrStaleTrain)
	}
	var car *train.Car
	for _, c := range t.Cars {
		if c.CarID == req.CarID {
			car = c
			break
		}
	}
	if car == nil {
		return UncoupleResponse{}, fmt.Errorf("car %q: %w", req.CarID, ErrUnknownCar)
	}

	if !ctx.Mode.Authority() {
		sent, err := coupling.RequestUncouple(ctx, car, keepFront)
		return UncoupleResponse{NewTrain: train.NoTrain, Requested: sent}, err
	}
	split := coupling.UncoupleBehind
	if ctx.Timetable {
		split = coupling.UncoupleBehindTimetable
	}
	created, err := split(ctx, car, keepFront)
	if err != nil {
		return UncoupleResponse{}, err
	}
	if created == nil {
		return UncoupleResponse{NewTrain: train.NoTrain}, nil
	}
	return UncoupleResponse{Split: true, NewTrain: created.Number}, nil
}
