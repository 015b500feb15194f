package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/geocoder89/taskora/internal/apperr"
	"github.com/geocoder89/taskora/internal/auth"
	"github.com/geocoder89/taskora/internal/config"
	"github.com/geocoder89/taskora/internal/domain/user"
	"github.com/geocoder89/taskora/internal/http/middlewares"
	"github.com/geocoder89/taskora/internal/notifications"
	"github.com/geocoder89/taskora/internal/security"
	"github.com/gin-gonic/gin"
)

const RefreshTokenCookie = "refreshToken"

type UserStore interface {
	Create(ctx context.Context, u user.User) (user.User, error)
	GetByEmail(ctx context.Context, email string) (user.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	SetEmailVerification(ctx context.Context, userID, hash string, expiry time.Time) error
	VerifyEmail(ctx context.Context, hash string, now time.Time) (user.User, error)
}

// RefreshTokenStore holds the one live refresh token hash per user.
type RefreshTokenStore interface {
	Set(ctx context.Context, userID string, hash *string) error
	Rotate(ctx context.Context, userID, presented, next string) error
}

type AuthHandler struct {
	users    UserStore
	refresh  RefreshTokenStore
	tokens   *auth.Manager
	notifier notifications.Notifier
	cfg      config.Config
	log      *slog.Logger
	now      func() time.Time
}

func NewAuthHandler(users UserStore, refresh RefreshTokenStore, tokens *auth.Manager, notifier notifications.Notifier, cfg config.Config, log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		users:    users,
		refresh:  refresh,
		tokens:   tokens,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User user.Public `json:"user"`
	tokenPair
}

func (h *AuthHandler) Register(ctx *gin.Context) {
	var req user.RegisterRequest

	if !BindJSON(ctx, &req) {
		return
	}

	c := ctx.Request.Context()

	exists, err := h.users.ExistsByUsernameOrEmail(c, req.Username, req.Email)
	if err != nil {
		failInternal(ctx, err)
		return
	}
	if exists {
		fail(ctx, apperr.Conflict("user_exists", "User with email or username already exists"))
		return
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	u, err := h.users.Create(c, user.User{
		Username:     req.Username,
		Email:        req.Email,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, user.ErrAlreadyExists) {
			fail(ctx, apperr.Conflict("user_exists", "User with email or username already exists"))
			return
		}
		failInternal(ctx, err)
		return
	}

	// a failed send is retried through resend-email-verification
	if err := h.sendVerification(c, u.Public()); err != nil {
		h.log.WarnContext(c, "verification_email_failed", "user_id", u.ID, "err", err)
	}

	RespondOK(ctx, http.StatusCreated, gin.H{"user": u.Public()},
		"User registered successfully and verification email has been sent on your email")
}

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req user.LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	c := ctx.Request.Context()

	u, err := h.users.GetByEmail(c, req.Email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(ctx, apperr.Unauthorized("Invalid email or password"))
			return
		}
		failInternal(ctx, err)
		return
	}

	if err := security.CheckPassword(u.PasswordHash, req.Password); err != nil {
		if errors.Is(err, security.ErrPasswordMismatch) {
			fail(ctx, apperr.Unauthorized("Invalid email or password"))
			return
		}
		failInternal(ctx, err)
		return
	}

	pair, err := h.issuePair(u.ID)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	hash := h.tokens.HashRefreshToken(pair.RefreshToken)
	if err := h.refresh.Set(c, u.ID, &hash); err != nil {
		failInternal(ctx, err)
		return
	}

	h.setAuthCookies(ctx, pair)
	RespondOK(ctx, http.StatusOK, loginResponse{User: u.Public(), tokenPair: pair}, "User logged in successfully")
}

// RefreshAccessToken rotates the refresh token. The presented token must be
// the one stored for its subject; each token rotates at most once.
func (h *AuthHandler) RefreshAccessToken(ctx *gin.Context) {
	raw, _ := ctx.Cookie(RefreshTokenCookie)
	raw = strings.TrimSpace(raw)

	if raw == "" && ctx.Request.ContentLength != 0 {
		var req user.RefreshRequest
		if !BindJSON(ctx, &req) {
			return
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}

	if raw == "" {
		fail(ctx, apperr.Unauthorized("Unauthorized request"))
		return
	}

	userID, err := h.tokens.VerifyRefreshToken(raw)
	if err != nil {
		h.log.InfoContext(ctx.Request.Context(), "refresh_rejected", "reason", auth.FailureReason(err))
		fail(ctx, apperr.Unauthorized("Invalid refresh token").WithCause(err))
		return
	}

	pair, err := h.issuePair(userID)
	if err != nil {
		failInternal(ctx, err)
		return
	}

	err = h.refresh.Rotate(ctx.Request.Context(), userID, h.tokens.HashRefreshToken(raw), h.tokens.HashRefreshToken(pair.RefreshToken))
	if err != nil {
		if errors.Is(err, user.ErrRefreshTokenMismatch) || errors.Is(err, user.ErrNotFound) {
			fail(ctx, apperr.Unauthorized("Refresh token is expired or used").WithCause(err))
			return
		}
		failInternal(ctx, err)
		return
	}

	h.setAuthCookies(ctx, pair)
	RespondOK(ctx, http.StatusOK, pair, "Access token refreshed")
}

// Logout drops the stored refresh token. Access tokens already issued stay
// valid until they expire.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		fail(ctx, apperr.Unauthorized("Unauthorized request"))
		return
	}

	if err := h.refresh.Set(ctx.Request.Context(), u.ID, nil); err != nil && !errors.Is(err, user.ErrNotFound) {
		failInternal(ctx, err)
		return
	}

	h.clearAuthCookies(ctx)
	RespondOK(ctx, http.StatusOK, gin.H{}, "User logged out")
}

func (h *AuthHandler) CurrentUser(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		fail(ctx, apperr.Unauthorized("Unauthorized request"))
		return
	}

	RespondOK(ctx, http.StatusOK, u, "Current user fetched successfully")
}

func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	raw := strings.TrimSpace(ctx.Param("verificationToken"))
	if raw == "" {
		fail(ctx, apperr.BadRequest("Email verification token is missing"))
		return
	}

	u, err := h.users.VerifyEmail(ctx.Request.Context(), security.HashVerificationToken(raw), h.now())
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			fail(ctx, apperr.BadRequest("Token is invalid or expired"))
			return
		}
		failInternal(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, gin.H{"isEmailVerified": u.IsEmailVerified}, "Email is verified")
}

func (h *AuthHandler) ResendEmailVerification(ctx *gin.Context) {
	u, ok := middlewares.CurrentUser(ctx)
	if !ok {
		fail(ctx, apperr.Unauthorized("Unauthorized request"))
		return
	}

	if u.IsEmailVerified {
		fail(ctx, apperr.Conflict("already_verified", "Email is already verified"))
		return
	}

	if err := h.sendVerification(ctx.Request.Context(), u); err != nil {
		failInternal(ctx, err)
		return
	}

	RespondOK(ctx, http.StatusOK, gin.H{}, "Mail has been sent to your email ID")
}

// sendVerification replaces the user's verification token and mails the new one.
func (h *AuthHandler) sendVerification(ctx context.Context, u user.Public) error {
	raw, hashed, err := security.NewVerificationToken()
	if err != nil {
		return err
	}

	if err := h.users.SetEmailVerification(ctx, u.ID, hashed, h.now().Add(security.EmailVerificationTTL)); err != nil {
		return err
	}

	return h.notifier.SendEmailVerification(ctx, notifications.EmailVerificationInput{
		Email:           u.Email,
		Username:        u.Username,
		VerificationURL: strings.TrimRight(h.cfg.ServerURL, "/") + "/api/v1/auth/verify-email/" + raw,
	})
}

func (h *AuthHandler) issuePair(userID string) (tokenPair, error) {
	access, _, err := h.tokens.GenerateAccessToken(userID)
	if err != nil {
		return tokenPair{}, err
	}

	refresh, _, err := h.tokens.GenerateRefreshToken(userID)
	if err != nil {
		return tokenPair{}, err
	}

	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (h *AuthHandler) setAuthCookies(ctx *gin.Context, pair tokenPair) {
	secure := h.cfg.IsProd()
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(middlewares.AccessTokenCookie, pair.AccessToken, int(h.tokens.AccessTTL().Seconds()), "/", "", secure, true)
	ctx.SetCookie(RefreshTokenCookie, pair.RefreshToken, int(h.tokens.RefreshTTL().Seconds()), "/", "", secure, true)
}

func (h *AuthHandler) clearAuthCookies(ctx *gin.Context) {
	secure := h.cfg.IsProd()
	ctx.SetSameSite(http.SameSiteLaxMode)
	ctx.SetCookie(middlewares.AccessTokenCookie, "", -1, "/", "", secure, true)
	ctx.SetCookie(RefreshTokenCookie, "", -1, "/", "", secure, true)
}
