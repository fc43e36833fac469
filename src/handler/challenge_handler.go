package handler

import (
	"context"
	"net/http"

	"github.com/cloudsignup/backend/src/domain"
	"github.com/cloudsignup/backend/src/service"
	"github.com/cloudsignup/backend/src/utils"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type ChallengeHandler struct {
	service        *service.ChallengeService
	allowedOrigins map[string]bool
	publicURL      string
}

// NewChallengeHandler builds the workflow handlers. Email links point at the
// request Origin when it is one of allowedOrigins, at publicURL otherwise.
func NewChallengeHandler(service *service.ChallengeService, allowedOrigins []string, publicURL string) *ChallengeHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[utils.TrimOrigin(origin)] = true
	}

	return &ChallengeHandler{
		service:        service,
		allowedOrigins: allowed,
		publicURL:      utils.TrimOrigin(publicURL),
	}
}

func (h *ChallengeHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "challenge").Logger()
	return &l
}

func (h *ChallengeHandler) linkHost(c *gin.Context) string {
	origin := utils.TrimOrigin(c.GetHeader("Origin"))
	if origin != "" && h.allowedOrigins[origin] {
		return origin
	}
	return h.publicURL
}

// bind decodes the JSON body; a malformed body fails with the kind of the
// first step of the workflow.
func (h *ChallengeHandler) bind(c *gin.Context, body interface{}, kind domain.ErrorKind) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		h.logger(c.Request.Context()).Debug().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(kind, err, domain.WithMsg("invalid request payload")))
		return false
	}
	return true
}

// RegisterNewRequest starts a registration.
type RegisterNewRequest struct {
	Name  string `json:"name" binding:"required" example:"Alice"`
	Email string `json:"email" binding:"required,email" example:"alice@example.com"`
}

// RegisterNew godoc
// @Summary Start a registration
// @Description Issue a create token and mail the verification link
// @Tags challenge
// @Accept json
// @Produce json
// @Param request body RegisterNewRequest true "Registration request"
// @Success 200
// @Failure 401 {object} domain.ErrorEnvelope
// @Failure 500 {object} domain.ErrorEnvelope
// @Router /register-new [post]
func (h *ChallengeHandler) RegisterNew(c *gin.Context) {
	var body RegisterNewRequest
	if !h.bind(c, &body, domain.ErrorKindAuth) {
		return
	}

	if err := h.service.Register(c.Request.Context(), body.Name, body.Email, h.linkHost(c)); err != nil {
		respondWithError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

// VerifyTokenRequest carries a challenge token.
type VerifyTokenRequest struct {
	Token string `json:"token" binding:"required,challenge_token" example:"3f1c9a0b6e2d4c8f7a1b3e5d9c0f2a4b6d8e0c1a"`
}

// VerifyTokenResponse is the identity bound to a token.
type VerifyTokenResponse struct {
	Email string `json:"email" example:"alice@example.com"`
	Name  string `json:"name" example:"Alice"`
}

// VerifyToken godoc
// @Summary Verify a challenge token
// @Description Return the email and name bound to a live token without consuming it
// @Tags challenge
// @Accept json
// @Produce json
// @Param request body VerifyTokenRequest true "Token"
// @Success 200 {object} VerifyTokenResponse
// @Failure 500 {object} domain.ErrorEnvelope
// @Router /verify-token [post]
func (h *ChallengeHandler) VerifyToken(c *gin.Context) {
	var body VerifyTokenRequest
	if !h.bind(c, &body, domain.ErrorKindToken) {
		return
	}

	challenge, err := h.service.VerifyToken(c.Request.Context(), body.Token)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, VerifyTokenResponse{
		Email: challenge.Email,
		Name:  challenge.Name,
	})
}

// CreateUserRequest completes a registration.
type CreateUserRequest struct {
	Token    string `json:"token" binding:"required,challenge_token" example:"3f1c9a0b6e2d4c8f7a1b3e5d9c0f2a4b6d8e0c1a"`
	Name     string `json:"name" example:"Alice"`
	Email    string `json:"email" binding:"omitempty,email" example:"alice@example.com"`
	Password string `json:"pw" binding:"required" example:"correct horse battery staple"`
}

// CreateUser godoc
// @Summary Create the account of a verified registration
// @Description Create the account and password credential, spend the token and log the user in
// @Tags challenge
// @Accept json
// @Produce json
// @Param request body CreateUserRequest true "Account details"
// @Success 200 {object} SuccessResponse
// @Failure 401 {object} domain.ErrorEnvelope
// @Failure 500 {object} domain.ErrorEnvelope
// @Router /create-user [post]
func (h *ChallengeHandler) CreateUser(c *gin.Context) {
	var body CreateUserRequest
	if !h.bind(c, &body, domain.ErrorKindToken) {
		return
	}

	session, err := h.service.CreateUser(c.Request.Context(), service.CreateUserInput{
		Token:    body.Token,
		Name:     body.Name,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	setSessionCookie(c, session.JWT)
	c.JSON(http.StatusOK, SuccessResponse{Type: "success"})
}

// ResetPasswordRequest starts a password reset.
type ResetPasswordRequest struct {
	Email string `json:"email" binding:"required,email" example:"alice@example.com"`
	Name  string `json:"name" example:"Alice"`
}

// ResetPassword godoc
// @Summary Request a password reset
// @Description Issue a reset token for the account of the email and mail the reset link
// @Tags challenge
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset request"
// @Success 200 {object} EmailSentResponse
// @Failure 401 {object} domain.ErrorEnvelope
// @Failure 500 {object} domain.ErrorEnvelope
// @Router /reset-password [post]
func (h *ChallengeHandler) ResetPassword(c *gin.Context) {
	var body ResetPasswordRequest
	if !h.bind(c, &body, domain.ErrorKindAccount) {
		return
	}

	if err := h.service.RequestPasswordReset(c.Request.Context(), body.Email, body.Name, h.linkHost(c)); err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, EmailSentResponse{Success: "Email sent"})
}

// UpdatePasswordRequest applies a password reset.
type UpdatePasswordRequest struct {
	Token    string `json:"token" binding:"required,challenge_token" example:"3f1c9a0b6e2d4c8f7a1b3e5d9c0f2a4b6d8e0c1a"`
	Password string `json:"pw" binding:"required" example:"correct horse battery staple"`
}

// UpdatePassword godoc
// @Summary Apply a password reset
// @Description Change the password of the token email, spend the token, log the user in and mail a confirmation
// @Tags challenge
// @Accept json
// @Produce json
// @Param request body UpdatePasswordRequest true "New password"
// @Success 200 {object} SuccessResponse
// @Failure 401 {object} domain.ErrorEnvelope
// @Failure 500 {object} domain.ErrorEnvelope
// @Router /update-password [post]
func (h *ChallengeHandler) UpdatePassword(c *gin.Context) {
	var body UpdatePasswordRequest
	if !h.bind(c, &body, domain.ErrorKindToken) {
		return
	}

	session, err := h.service.UpdatePassword(c.Request.Context(), body.Token, body.Password, h.linkHost(c))
	if err != nil {
		respondWithError(c, err)
		return
	}

	setSessionCookie(c, session.JWT)
	c.JSON(http.StatusOK, SuccessResponse{Type: "success"})
}
