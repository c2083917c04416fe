package web

import (
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// handlePairingQR serves a QR code for the Telegram deep-link so the
// bot can be opened from a phone camera.
func (s *Server) handlePairingQR(w http.ResponseWriter, r *http.Request) {
	if s.botUsername == "" {
		http.Error(w, "telegram bot not configured", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode("https://t.me/"+s.botUsername, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("qr encode failed", "error", err)
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(png)
}
