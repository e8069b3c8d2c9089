package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bbux/presale-api/internal/models"
	"github.com/bbux/presale-api/internal/services"
	"github.com/bbux/presale-api/internal/store"
)

// GetStage returns the presale schedule view
func GetStage(pricingService *services.PricingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := pricingService.StageInfo(time.Now().UTC())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

// GetQuote prices a contribution at the currently active stage
func GetQuote(pricingService *services.PricingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.QuoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		quote, err := pricingService.Quote(time.Now().UTC(), req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNoActiveStage):
				http.Error(w, err.Error(), http.StatusConflict)
			case errors.Is(err, services.ErrBelowMinimum), errors.Is(err, services.ErrAboveMaximum):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "Could not build quote", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(quote)
	}
}

// TrackPurchase records a client-reported on-chain contribution
func TrackPurchase(observerService *services.ObserverService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.TrackPurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		rec, err := observerService.TrackPurchase(req)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrInvalidTxHash),
				errors.Is(err, services.ErrInvalidWallet),
				errors.Is(err, services.ErrBelowMinimum):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "Could not track purchase", http.StatusInternalServerError)
			}
			return
		}

		view := models.NewClaimView(rec)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":      true,
			"payment": view,
		})
	}
}

// GetPublicStats returns aggregate ledger stats for the public dashboard,
// including tokens sold per stage (display only; allocation is enforced
// on-chain). Recent payments are reduced to the sanitized claim view.
func GetPublicStats(paymentStore store.PaymentStore, pricingService *services.PricingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := paymentStore.Stats(20)
		if err != nil {
			http.Error(w, "Could not compute stats", http.StatusInternalServerError)
			return
		}

		records, err := paymentStore.ListRecent(1 << 20)
		if err != nil {
			http.Error(w, "Could not compute stats", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"stats":       models.NewPublicStats(stats),
			"stage_sold":  pricingService.TokensByStage(records),
			"server_time": time.Now().UTC(),
		})
	}
}

// GetStats returns the raw ledger stats, recent records included. Admin only;
// the raw form carries claim tokens and buyer identity.
func GetStats(paymentStore store.PaymentStore, pricingService *services.PricingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := paymentStore.Stats(20)
		if err != nil {
			http.Error(w, "Could not compute stats", http.StatusInternalServerError)
			return
		}

		records, err := paymentStore.ListRecent(1 << 20)
		if err != nil {
			http.Error(w, "Could not compute stats", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"stats":       stats,
			"stage_sold":  pricingService.TokensByStage(records),
			"server_time": time.Now().UTC(),
		})
	}
}

// Health reports service liveness
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	}
}
