package api

import "net/http"

func (h *Handler) handlePublicTariffs(w http.ResponseWriter, r *http.Request) {
	prices := h.tariffs.Prices()
	out := make(map[string]int, len(prices))
	for code, price := range prices {
		out[string(code)] = price
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"currency": h.tariffs.Currency(),
		"tariffs":  out,
	})
}
