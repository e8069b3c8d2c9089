package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bbux/presale-api/internal/services"
)

const maxWebhookBody = 1 << 20

// PayPalWebhook ingests payment processor webhook deliveries. Rejected
// signatures and malformed events return 400 so the processor stops retrying;
// transient failures return 500 so it retries later.
func PayPalWebhook(paypalService *services.PayPalService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The signature covers the raw bytes, so the body must be read
		// before any decoding.
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "Could not read body", http.StatusBadRequest)
			return
		}

		_, err = paypalService.HandleWebhook(r.Context(), r.Header, body)
		if err != nil {
			if errors.Is(err, services.ErrSignatureInvalid) || errors.Is(err, services.ErrMalformedEvent) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}
