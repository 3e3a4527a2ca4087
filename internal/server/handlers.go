package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/requestnet/internal/feed"
	"github.com/mattjoyce/requestnet/internal/ledger"
	"github.com/mattjoyce/requestnet/internal/metrics"
	"github.com/mattjoyce/requestnet/pkg/webhook"
)

// AckResponse is the 202 body for an accepted delivery.
type AckResponse struct {
	DeliveryID string `json:"delivery_id,omitempty"`
	Event      string `json:"event"`
}

// DeliveryList is the body of GET /deliveries.
type DeliveryList struct {
	Deliveries []ledger.Delivery `json:"deliveries"`
	Count      int               `json:"count"`
}

// handleAck runs after the webhook middleware has verified and dispatched
// the delivery. Handlers have already run, so a ledger failure is logged
// and the delivery is still acknowledged.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ev, ok := webhook.EventFromContext(ctx)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "webhook event missing from context")
		return
	}

	resp := AckResponse{Event: ev.Event()}
	req := ledger.RequestFor(ev, chimw.GetReqID(ctx))
	d, err := s.recorder.Record(context.WithoutCancel(ctx), req)
	if err != nil {
		s.logger.Error("failed to record delivery",
			"event", ev.Event(),
			"fingerprint", ev.Fingerprint(),
			"request_id", chimw.GetReqID(ctx),
			"error", err,
		)
	} else {
		resp.DeliveryID = d.ID
	}

	if s.feed != nil {
		s.feed.Publish(feed.KindDelivery, feed.DeliverySummary{
			DeliveryID:  resp.DeliveryID,
			Event:       ev.Event(),
			RequestID:   req.RequestID,
			Fingerprint: ev.Fingerprint(),
			Verified:    ev.Verified(),
		})
	}
	if s.metrics != nil {
		s.metrics.ObserveAccepted(ev.Event())
	}

	s.logger.Debug("webhook delivery accepted", "event", ev.Event(), "delivery_id", resp.DeliveryID)
	s.respondJSON(w, http.StatusAccepted, resp)
}

// handleWebhookError observes a rejected delivery and writes the default response.
func (s *Server) handleWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	event := ""
	if ev, ok := webhook.EventFromContext(r.Context()); ok {
		event = ev.Event()
	}
	if s.metrics != nil {
		s.metrics.ObserveFailure(event, err)
	}
	if s.feed != nil {
		s.feed.Publish(feed.KindRejected, feed.Rejection{
			Status: webhook.StatusFor(err),
			Reason: rejectionReason(err),
			Event:  event,
		})
	}
	webhook.DefaultErrorHandler(w, r, err)
}

func rejectionReason(err error) string {
	var sigErr *webhook.SignatureError
	if errors.As(err, &sigErr) {
		return string(sigErr.Reason)
	}
	var valErr *webhook.ValidationError
	if errors.As(err, &valErr) {
		return string(valErr.Kind)
	}
	return metrics.OutcomeFor(err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{Event: q.Get("event")}
	if f.Event != "" && !s.registry.Known(f.Event) {
		s.respondError(w, http.StatusBadRequest, "unknown event: "+f.Event)
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	deliveries, err := s.recorder.Recent(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list deliveries", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []ledger.Delivery{}
	}
	s.respondJSON(w, http.StatusOK, DeliveryList{Deliveries: deliveries, Count: len(deliveries)})
}

func (s *Server) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.recorder.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrDeliveryNotFound) {
		s.respondError(w, http.StatusNotFound, "delivery not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load delivery", "delivery_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load delivery")
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
