// Package custodytest runs an in-process fake of the custody service for
// tests and examples. It verifies stamps the way the hosted API does,
// executes scripted consensus flows, and issues credential bundles to
// caller-supplied recipient keys.
package custodytest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/custodia-labs/custodia-go/activity"
	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/internal/uuid"
	"github.com/custodia-labs/custodia-go/stamp"
	webauthnstamp "github.com/custodia-labs/custodia-go/stamp/webauthn"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// script describes how the next submitted activity behaves: how many status
// queries report PENDING before the terminal status appears.
type script struct {
	pendingPolls  int
	terminal      activity.Status
	errorMessage  string
	errorOnSubmit bool
}

type activityState struct {
	act          activity.Activity
	pendingPolls int
	terminal     activity.Status
	errorMessage string
}

// Service is the fake custody service. Zero-value scripts complete every
// activity immediately.
type Service struct {
	server *httptest.Server
	logger *slog.Logger

	mu         sync.Mutex
	next       *script
	activities map[string]*activityState
}

// New starts the service. Callers must Close it.
func New() *Service {
	s := &Service{
		logger:     slog.Default(),
		activities: make(map[string]*activityState),
	}

	r := chi.NewRouter()
	r.Post("/v1/submit", s.handleSubmit)
	r.Post("/v1/activities/get", s.handleGetActivity)
	r.Post("/v1/credentials/issue", s.handleIssueCredential)
	s.server = httptest.NewServer(r)
	return s
}

// URL is the service base URL.
func (s *Service) URL() string { return s.server.URL }

// Close shuts the service down.
func (s *Service) Close() { s.server.Close() }

// ScriptNext makes the next submitted activity report PENDING for
// pendingPolls status queries and then the given terminal status.
func (s *Service) ScriptNext(pendingPolls int, terminal activity.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = &script{pendingPolls: pendingPolls, terminal: terminal}
}

// ScriptNextError makes the next submitted activity carry a service error
// message while still pending, which callers must treat as rejection. The
// submission itself comes back as plain pending; the error surfaces on the
// first status query.
func (s *Service) ScriptNextError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = &script{pendingPolls: 1, terminal: activity.StatusPending, errorMessage: message}
}

// ScriptNextSubmitError makes the next submission response itself report
// PENDING with a service error message attached, so callers reject without
// any polling.
func (s *Service) ScriptNextSubmitError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = &script{terminal: activity.StatusPending, errorMessage: message, errorOnSubmit: true}
}

// readStamped reads the body and checks the stamp header over it. Requests
// without a valid stamp are rejected the way the hosted API rejects them.
func (s *Service) readStamped(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return nil, false
	}

	if hv := r.Header.Get(stamp.APIKeyHeader); hv != "" {
		if err := stamp.VerifyAPIKeyStamp(hv, string(body)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid stamp: "+err.Error())
			return nil, false
		}
		return body, true
	}
	if hv := r.Header.Get(webauthnstamp.Header); hv != "" {
		var assertion struct {
			Signature protocol.URLEncodedBase64 `json:"signature"`
		}
		if err := json.Unmarshal([]byte(hv), &assertion); err != nil || len(assertion.Signature) == 0 {
			writeError(w, http.StatusUnauthorized, "invalid webauthn stamp")
			return nil, false
		}
		return body, true
	}

	writeError(w, http.StatusUnauthorized, "missing stamp header")
	return nil, false
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readStamped(w, r)
	if !ok {
		return
	}
	var req struct {
		OrganizationID string          `json:"organizationId"`
		Type           string          `json:"type"`
		Parameters     json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request: "+err.Error())
		return
	}

	s.mu.Lock()
	sc := s.next
	s.next = nil
	if sc == nil {
		sc = &script{terminal: activity.StatusCompleted}
	}
	state := &activityState{
		act: activity.Activity{
			ID:   uuid.New(),
			Type: req.Type,
		},
		pendingPolls: sc.pendingPolls,
		terminal:     sc.terminal,
		errorMessage: sc.errorMessage,
	}
	s.activities[state.act.ID] = state
	act := state.snapshot(sc.pendingPolls > 0 || sc.errorMessage != "", sc.errorOnSubmit)
	s.mu.Unlock()

	s.logger.Debug("activity submitted",
		"activity_id", act.ID, "type", act.Type, "status", string(act.Status))
	writeJSON(w, http.StatusOK, map[string]any{"activity": act})
}

func (s *Service) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readStamped(w, r)
	if !ok {
		return
	}
	var req struct {
		OrganizationID string `json:"organizationId"`
		ActivityID     string `json:"activityId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request: "+err.Error())
		return
	}

	s.mu.Lock()
	state, found := s.activities[req.ActivityID]
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	pending := state.pendingPolls > 0
	if pending {
		state.pendingPolls--
	}
	act := state.snapshot(pending || state.errorMessage != "", true)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"activity": act})
}

// snapshot renders the activity as pending or terminal. withError controls
// whether a scripted error message shows on a pending render. Callers hold
// s.mu.
func (st *activityState) snapshot(pending, withError bool) activity.Activity {
	act := st.act
	if pending {
		act.Status = activity.StatusPending
		if withError {
			act.ErrorMessage = st.errorMessage
		}
		return act
	}
	act.Status = st.terminal
	if act.Status.Succeeded() {
		act.Result = json.RawMessage(`{"activityId":"` + act.ID + `"}`)
	}
	return act
}

func (s *Service) handleIssueCredential(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readStamped(w, r)
	if !ok {
		return
	}
	var req struct {
		RecipientPublicKey string `json:"recipientPublicKey"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request: "+err.Error())
		return
	}

	pub, priv, err := stamp.GenerateAPIKeyPair()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	encoded, err := bundle.Encrypt([]byte(priv), req.RecipientPublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "encrypting bundle: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credentialBundle": encoded,
		"publicKey":        pub,
	})
}
