package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"hzinstall/internal/history"
)

const (
	MaxPayloadBytes  = 1_000_000
	RecentRunsLimit  = 10
	branchRefPrefix  = "refs/heads/"
	msgInProgress    = "Provisioning already in progress"
	eventHeader      = "X-GitHub-Event"
	signatureHeader  = "X-Hub-Signature-256"
	deliveryIDHeader = "X-GitHub-Delivery"
)

// pushEvent is the part of a GitHub push payload the server reads.
type pushEvent struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
}

// HandleWebhook validates a GitHub delivery and starts a provisioning run for
// pushes to the configured branch.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	// ContentLength is -1 when unknown; the LimitReader below covers that case.
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes+1))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}
	if len(body) > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	if !VerifySignature(body, r.Header.Get(signatureHeader), s.Secret) {
		s.Logger.Warn("Rejected webhook with invalid signature", "delivery", r.Header.Get(deliveryIDHeader))
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	switch event := r.Header.Get(eventHeader); event {
	case "push":
	case "ping":
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
		return
	default:
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Ignoring non-push event"})
		return
	}

	var push pushEvent
	if err := json.Unmarshal(body, &push); err != nil {
		s.Logger.Error("Failed to parse JSON payload", "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if push.Ref != branchRefPrefix+s.Branch {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Not target branch, skipping"})
		return
	}
	if push.Deleted {
		s.respondJSON(w, http.StatusOK, map[string]string{"message": "Branch deleted, skipping"})
		return
	}

	if !s.locks.TryLock(s.Target) {
		s.Logger.Warn("Provisioning already in progress, rejecting", "target", s.Target, "commit", push.After)
		s.recordRejection(r.Context(), push)
		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": msgInProgress})
		return
	}

	// GitHub gives up after 10 seconds; acknowledge now and provision in the background.
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Provisioning accepted",
		"target":  s.Target,
		"commit":  push.After,
	})

	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.locks.Unlock(s.Target)
		s.runDeploy(push)
	}()
}

func (s *Server) runDeploy(push pushEvent) {
	start := time.Now()
	s.Logger.Info("Provisioning started", "target", s.Target, "branch", s.Branch, "commit", push.After)

	if err := s.Deploy(s.baseCtx); err != nil {
		s.Logger.Error("Provisioning failed", "target", s.Target, "commit", push.After, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.Logger.Info("Provisioning completed", "target", s.Target, "commit", push.After,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *Server) recordRejection(ctx context.Context, push pushEvent) {
	if s.History == nil {
		return
	}
	msg := msgInProgress
	rec := &history.RunRecord{
		Target:       s.Target,
		Branch:       s.Branch,
		Trigger:      history.TriggerWebhook,
		Status:       history.StatusRejected,
		ErrorMessage: &msg,
	}
	if push.After != "" {
		commit := push.After
		rec.CommitHash = &commit
	}
	if _, err := s.History.Record(ctx, rec); err != nil {
		s.Logger.Error("Failed to record rejection in history", "error", err)
	}
}

// HandleHealth reports liveness and what the server provisions.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"target":  s.Target,
		"branch":  s.Branch,
		"history": s.History != nil,
	})
}

// HandleStatus returns the latest and recent provisioning runs.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	status, err := s.History.Status(r.Context(), s.Target, RecentRunsLimit)
	if err != nil {
		s.Logger.Error("Failed to read run history", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch provisioning status"})
		return
	}

	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
