package httpapi

import (
	"net/http"
	"time"

	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/directory"
)

type signupRequest struct {
	OrganizationName string `json:"organization_name"`
	SolutionURL      string `json:"solution_url"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	ConfirmPassword  string `json:"confirm_password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type passwordTokenRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type verifyEmailRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	User        *directory.User `json:"user,omitempty"`
}

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	org, admin, err := a.directory.Signup(r.Context(), directory.SignupInput{
		OrganizationName: req.OrganizationName,
		SolutionURL:      req.SolutionURL,
		Email:            req.Email,
		Password:         req.Password,
		ConfirmPassword:  req.ConfirmPassword,
	})
	if err != nil {
		handleDomainError(w, err)
		return
	}
	a.audit(r.Context(), "organization.signup", "organization_id", org.ID, "admin_user_id", admin.ID)
	// The client secret is returned exactly once, at signup.
	writeJSON(w, http.StatusCreated, map[string]any{
		"organization":  org,
		"user":          admin,
		"client_id":     org.ClientID,
		"client_secret": org.ClientSecret,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.directory.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	signed, expiresAt, err := a.issuer.Issue(auth.SessionUser{
		ID:             user.ID,
		Email:          user.Email,
		OrganizationID: user.OrganizationID,
		Role:           user.Role,
		Status:         user.Status,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue session")
		return
	}
	a.audit(r.Context(), "user.login", "user_id", user.ID, "organization_id", user.OrganizationID)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        &user,
	})
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.ForgotPassword(r.Context(), req.Email); err != nil {
		handleDomainError(w, err)
		return
	}
	// Always 202: the response must not reveal whether the email exists.
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// handleResetPassword validates on GET (the form page probes the token before
// prompting) and resets on POST.
func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if err := a.directory.VerifyResetToken(r.Context(), r.URL.Query().Get("token")); err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "valid"})
	case http.MethodPost:
		var req passwordTokenRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.directory.ResetPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
			handleDomainError(w, err)
			return
		}
		a.audit(r.Context(), "user.password_reset")
		writeJSON(w, http.StatusOK, map[string]any{"status": "password_updated"})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSetupPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req passwordTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.SetupPassword(r.Context(), req.Token, req.Password, req.ConfirmPassword); err != nil {
		handleDomainError(w, err)
		return
	}
	a.audit(r.Context(), "user.password_setup")
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_set"})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req verifyEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.directory.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	a.audit(r.Context(), "user.email_verified", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "verified", "user": user})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := a.directory.GetUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	policies, err := a.cache.Policies(r.Context(), userID)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	keys := make([]string, 0, len(policies))
	for key := range policies {
		keys = append(keys, key)
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "policies": keys})
}
