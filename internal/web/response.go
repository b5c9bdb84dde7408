package web

import (
	"encoding/json"
	"net/http"
)

// Messages shown to operators by the upload page.
const (
	MessageNoFiles        = "Tidak ada file yang dipilih!"
	MessageTooManyFiles   = "Maksimum %d file sekaligus!"
	MessageUnsupported    = "Format file tidak didukung (harus PDF)!"
	MessageBusy           = "Proses otomatisasi sedang berjalan. Silakan tunggu hingga selesai."
	MessageStarted        = "%d file berhasil diupload! Proses otomatisasi dimulai..."
	MessageInvalidPDF     = "File PDF tidak valid: %s"
	MessageTooLarge       = "Ukuran file terlalu besar: %s"
	MessageCancelling     = "Membatalkan proses..."
	MessageNothingRunning = "Tidak ada proses yang berjalan."
	MessageReset          = "Status berhasil direset."
	MessageInternal       = "Terjadi kesalahan pada server."
)

// envelope is the body of every action endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}
