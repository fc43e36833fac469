package handler

import (
	"errors"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SuccessResponse is the body of the create-user and update-password routes.
type SuccessResponse struct {
	Type string `json:"type" example:"success"`
}

// EmailSentResponse is the body of the reset-password route.
type EmailSentResponse struct {
	Success string `json:"success" example:"Email sent"`
}

// respondWithError renders err as the fixed envelope of its kind. A rejected
// login is relayed with the downstream status and body instead.
func respondWithError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	_ = c.Error(err)

	var loginErr *domain.LoginError
	if errors.As(err, &loginErr) {
		zerolog.Ctx(ctx).Warn().
			Str("function", "respondWithError").
			Int("status", loginErr.Status).
			Msg("relaying login rejection")

		contentType := loginErr.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(loginErr.Status, contentType, loginErr.Body)
		c.Abort()
		return
	}

	domainErr := parseDomainError(err)
	envelope := domainErr.Envelope()

	zerolog.Ctx(ctx).Error().
		Err(err).
		Str("function", "respondWithError").
		Str("kind", domainErr.Name()).
		Int("status", envelope.Status).
		Msg(domainErr.Msg())

	c.AbortWithStatusJSON(envelope.Status, envelope)
}

// parseDomainError extracts domain error information
func parseDomainError(err error) domain.DomainError {
	var domainError domain.DomainError
	// An empty domain.DomainError renders the generic envelope.
	_ = errors.As(err, &domainError)
	return domainError
}
