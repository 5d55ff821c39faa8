package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Youmanvi/stockledger/internal/domain"
	"github.com/Youmanvi/stockledger/internal/infrastructure/observability"
	"github.com/Youmanvi/stockledger/internal/ledger"
	"github.com/Youmanvi/stockledger/internal/pkg/errors"
	"github.com/Youmanvi/stockledger/internal/reservation"
)

// Server exposes the reservation and stock operations over HTTP
type Server struct {
	manager *reservation.Manager
	ledger  *ledger.Ledger
	logger  *observability.Logger
}

// New creates a new HTTP server
func New(manager *reservation.Manager, lg *ledger.Ledger, logger *observability.Logger) *Server {
	return &Server{manager: manager, ledger: lg, logger: logger}
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/inventory/reserve", s.handleReserve)
	mux.HandleFunc("POST /api/inventory/reserve/{orderId}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/inventory/reserve/{orderId}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/inventory/{productId}", s.handleGetStock)
	mux.HandleFunc("PUT /api/inventory/{productId}", s.handleAdjustQuantity)
	return mux
}

type reservationResponse struct {
	ReservationID string    `json:"reservationId"`
	OrderID       string    `json:"orderId"`
	ProductID     string    `json:"productId"`
	Quantity      int64     `json:"quantity"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type stockResponse struct {
	ProductID         string    `json:"productId"`
	Quantity          int64     `json:"quantity"`
	ReservedQuantity  int64     `json:"reservedQuantity"`
	AvailableQuantity int64     `json:"availableQuantity"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "MISSING_ORDER_ID", Message: "orderId query parameter is required"})
		return
	}

	var lines map[string]int64
	if err := json.NewDecoder(r.Body).Decode(&lines); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Message: "body must map productId to quantity"})
		return
	}

	reservations, err := s.manager.Reserve(r.Context(), orderID, lines)
	if errors.IsUnavailable(err) {
		// Definitive rejection; the recorded CANCELLED lines are returned
		// so the caller can decide whether to retry with reduced quantities.
		writeJSON(w, http.StatusConflict, toReservationResponses(reservations))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toReservationResponses(reservations))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Confirm(r.Context(), r.PathValue("orderId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Cancel(r.Context(), r.PathValue("orderId")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	item, err := s.ledger.Get(r.Context(), r.PathValue("productId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(item))
}

func (s *Server) handleAdjustQuantity(w http.ResponseWriter, r *http.Request) {
	quantityStr := r.URL.Query().Get("quantity")
	quantity, err := strconv.ParseInt(quantityStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_QUANTITY", Message: fmt.Sprintf("quantity %q is not an integer", quantityStr)})
		return
	}

	item, err := s.ledger.AdjustQuantity(r.Context(), r.PathValue("productId"), quantity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockResponse(item))
}

// writeError maps domain error kinds to HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	message := "internal error"

	if de, ok := err.(*errors.DomainError); ok {
		code = de.Code
		message = de.Message
		switch de.Kind {
		case errors.KindNotFound:
			status = http.StatusNotFound
		case errors.KindInvalidTransition, errors.KindUnavailable:
			status = http.StatusConflict
		case errors.KindInvariantViolation:
			status = http.StatusBadRequest
		case errors.KindTimeout:
			status = http.StatusServiceUnavailable
		}
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error().Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func toReservationResponses(reservations []*domain.Reservation) []reservationResponse {
	out := make([]reservationResponse, 0, len(reservations))
	for _, r := range reservations {
		out = append(out, reservationResponse{
			ReservationID: r.ID,
			OrderID:       r.OrderID,
			ProductID:     r.ProductID,
			Quantity:      r.Quantity,
			Status:        string(r.Status),
			ExpiresAt:     r.ExpiresAt,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     r.UpdatedAt,
		})
	}
	return out
}

func toStockResponse(item *domain.StockItem) stockResponse {
	return stockResponse{
		ProductID:         item.ProductID,
		Quantity:          item.Quantity,
		ReservedQuantity:  item.ReservedQuantity,
		AvailableQuantity: item.AvailableQuantity(),
		Version:           item.Version,
		UpdatedAt:         item.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
