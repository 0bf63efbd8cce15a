package csrfserver

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/moegirlwiki/csrf-bootstrap-go/internal/logger"
)

type apiHandler struct {
	header string
}

func (h *apiHandler) get(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(h.header, csrf.Token(r))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (h *apiHandler) post(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func forbidden(log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Warn("csrf check failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Method(r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(csrf.FailureReason(r)),
		)
		http.Error(w, "Forbidden - CSRF token invalid", http.StatusForbidden)
	})
}
