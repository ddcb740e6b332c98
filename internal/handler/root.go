package handler

import "net/http"

// HandleRoot identifies the API.
func HandleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notebook Analysis API"})
}

// HandleHealth is the liveness probe of the HTTP server itself, not of the
// kernel.
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}
