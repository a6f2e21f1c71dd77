package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type provisionUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

// publicOrganization strips credential material from search and read results.
type publicOrganization struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SolutionURL string `json:"solution_url,omitempty"`
	Status      string `json:"status"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !a.ensurePolicies(w, r, policyOrgRead) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orgs, err := a.directory.SearchOrganizations(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	out := make([]publicOrganization, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, publicOrganization{
			ID: org.ID, Name: org.Name, SolutionURL: org.SolutionURL, Status: org.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": out})
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	if path == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]
	switch {
	case len(parts) == 1:
		a.handleOrganizationGet(w, r, orgID)
	case len(parts) == 2 && parts[1] == "users":
		a.handleOrganizationUsers(w, r, orgID)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrganizationGet(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !a.ensurePolicies(w, r, policyOrgRead) {
		return
	}
	org, err := a.directory.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleDomainError(w, err)
		return
	}
	if orgID == callerOrg(r) {
		// Own organization includes the client id; the secret never leaves
		// signup.
		writeJSON(w, http.StatusOK, org)
		return
	}
	writeJSON(w, http.StatusOK, publicOrganization{
		ID: org.ID, Name: org.Name, SolutionURL: org.SolutionURL, Status: org.Status,
	})
}

// handleOrganizationUsers lists (GET) and provisions (POST) members. Both are
// scoped to the caller's own organization.
func (a *API) handleOrganizationUsers(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicies(w, r, policyUserRead) {
			return
		}
		if orgID != callerOrg(r) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		users, err := a.directory.ListUsers(r.Context(), orgID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	case http.MethodPost:
		if !a.ensurePolicies(w, r, policyUserWrite) {
			return
		}
		if orgID != callerOrg(r) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var req provisionUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.directory.ProvisionUser(r.Context(), orgID, req.Email, req.Role)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		a.audit(r.Context(), "user.provisioned", "target_user_id", user.ID, "role", user.Role)
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "role":
		a.handleUserRole(w, r, userID)
	case "status":
		a.handleUserStatus(w, r, userID)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	if !a.ensurePolicies(w, r, policyUserWrite) {
		return
	}
	if !a.sameOrgTarget(w, r, userID) {
		return
	}
	var req changeRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.ChangeUserRole(r.Context(), userID, req.Role); err != nil {
		handleDomainError(w, err)
		return
	}
	// The grant set changed; drop the stale cache entry now.
	a.cache.Invalidate(userID)
	a.audit(r.Context(), "user.role_changed", "target_user_id", userID, "role", req.Role)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	if !a.ensurePolicies(w, r, policyUserWrite) {
		return
	}
	if !a.sameOrgTarget(w, r, userID) {
		return
	}
	var req changeStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.directory.ChangeUserStatus(r.Context(), userID, req.Status); err != nil {
		handleDomainError(w, err)
		return
	}
	a.cache.Invalidate(userID)
	a.audit(r.Context(), "user.status_changed", "target_user_id", userID, "status", req.Status)
	w.WriteHeader(http.StatusNoContent)
}

// sameOrgTarget rejects user mutations across organization boundaries.
func (a *API) sameOrgTarget(w http.ResponseWriter, r *http.Request, userID string) bool {
	target, err := a.directory.GetUser(r.Context(), userID)
	if err != nil {
		handleDomainError(w, err)
		return false
	}
	if target.OrganizationID != callerOrg(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
