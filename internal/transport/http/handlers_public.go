package httptransport

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idcollect/internal/verification"
	"idcollect/internal/verifier"
)

// PublicHandler serves the customer-facing verification endpoints. These
// routes are unauthenticated; the token in the path is the credential.
type PublicHandler struct {
	verifications *verification.Service
	logger        *slog.Logger
}

func NewPublicHandler(verifications *verification.Service, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{verifications: verifications, logger: logger}
}

func (h *PublicHandler) Register(r chi.Router) {
	r.Get("/verify/{token}", h.handleDescribe)
	r.Post("/verify/{token}", h.handleSubmit)
}

func (h *PublicHandler) handleDescribe(w http.ResponseWriter, r *http.Request) {
	info, err := h.verifications.DescribeLink(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

func (h *PublicHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub verification.Submission
	if !decode(w, r, h.logger, &sub) {
		return
	}

	res, err := h.verifications.SubmitFromCustomer(r.Context(), chi.URLParam(r, "token"), sub)
	if err != nil {
		// Registry infrastructure failures answer with the category's
		// customer wording rather than a bare error code.
		var pe *verifier.ProviderError
		if errors.As(err, &pe) {
			h.logger.WarnContext(r.Context(), "customer verification blocked by provider failure",
				"category", pe.Category,
				"provider", pe.ProviderID,
			)
			WriteJSON(w, http.StatusServiceUnavailable, verification.SubmissionResult{
				Error: pe.UserMessage(),
			})
			return
		}
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
