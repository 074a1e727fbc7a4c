package errors

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"gitea.jw6.us/james/guildcal/internal/log"
)

// InternalError logs err with the request id and hides it from the client.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// LogError logs err with the request id, if any.
func LogError(r *http.Request, message string, err error) {
	log.Error(message, err, "request_id", middleware.GetReqID(r.Context()), "path", r.URL.Path)
}
