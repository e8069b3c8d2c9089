package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/services"
	"github.com/bbux/presale-api/internal/store"
)

// GetClaim returns the sanitized view of a claimable payment
func GetClaim(claimService *services.ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		view, err := claimService.Lookup(token)
		if err != nil {
			if errors.Is(err, services.ErrClaimNotFound) {
				http.Error(w, "Claim not found", http.StatusNotFound)
				return
			}
			http.Error(w, "Could not load claim", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(view)
	}
}

// RedeemClaim binds a wallet to a claim after verifying its signature
func RedeemClaim(claimService *services.ClaimService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		var req models.ClaimRedeemRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		rec, queued, err := claimService.Redeem(token, req)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrClaimNotFound):
				http.Error(w, "Claim not found", http.StatusNotFound)
			case errors.Is(err, services.ErrClaimExpired):
				http.Error(w, "Claim expired", http.StatusGone)
			case errors.Is(err, services.ErrAlreadyClaimed):
				http.Error(w, "Already claimed", http.StatusConflict)
			case errors.Is(err, services.ErrBadSignature), errors.Is(err, services.ErrInvalidWallet):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "Could not redeem claim", http.StatusInternalServerError)
			}
			return
		}

		view := models.NewClaimView(rec)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":             true,
			"claim":          view,
			"deliveryQueued": queued,
		})
	}
}

// ClaimMessage returns the exact text a wallet must sign to redeem the claim,
// so the frontend never has to rebuild it.
func ClaimMessage(claimService *services.ClaimService, paymentStore store.PaymentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		rec, err := paymentStore.GetByClaimToken(token)
		if err != nil {
			http.Error(w, "Could not load claim", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.Error(w, "Claim not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": claimService.ClaimMessage(rec),
		})
	}
}
