package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/services"
	"github.com/bbux/presale-api/internal/store"
)

// ListPayments returns the most recent ledger entries
func ListPayments(paymentStore store.PaymentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				limit = n
			}
		}

		records, err := paymentStore.ListRecent(limit)
		if err != nil {
			http.Error(w, "Could not list payments", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payments": records,
		})
	}
}

// GetPayment returns one ledger entry by transaction id
func GetPayment(paymentStore store.PaymentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("transaction_id")
		if id == "" {
			http.Error(w, "transaction_id required", http.StatusBadRequest)
			return
		}

		rec, err := paymentStore.GetByTransactionID(id)
		if err != nil {
			http.Error(w, "Could not load payment", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "Payment not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

// IssueClaim attaches a claim token to a payment
func IssueClaim(claimService *services.ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.IssueClaimRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.TransactionID == "" {
			http.Error(w, "transaction_id required", http.StatusBadRequest)
			return
		}

		claim, err := claimService.Issue(req)
		if err != nil {
			if errors.Is(err, services.ErrPaymentNotFound) {
				http.Error(w, "Payment not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Could not issue claim", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(claim)
	}
}

// DeliverTokens triggers a token delivery for a payment
func DeliverTokens(deliveryService *services.DeliveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.DeliverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.TransactionID == "" {
			http.Error(w, "transaction_id required", http.StatusBadRequest)
			return
		}

		result, err := deliveryService.Deliver(r.Context(), req.TransactionID, req.To)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrPaymentNotFound):
				http.Error(w, "Payment not found", http.StatusNotFound)
			case errors.Is(err, services.ErrNoWallet),
				errors.Is(err, services.ErrMissingTokenAmount),
				errors.Is(err, services.ErrInvalidDestination):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, err.Error(), http.StatusBadGateway)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}
