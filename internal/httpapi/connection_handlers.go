package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type connectionRequestBody struct {
	OrganizationID string `json:"organization_id"`
}

// handleConnectionRequests lists the caller's requests (GET) or opens a new
// one (POST). The requesting side is always the caller's organization.
func (a *API) handleConnectionRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.ensurePolicies(w, r, policyConnRead) {
			return
		}
		reqs, err := a.directory.ListConnectionRequests(r.Context(), callerOrg(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"connection_requests": reqs})
	case http.MethodPost:
		if !a.ensurePolicies(w, r, policyConnWrite) {
			return
		}
		var body connectionRequestBody
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req, err := a.directory.RequestConnection(r.Context(), callerOrg(r), body.OrganizationID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		a.audit(r.Context(), "connection.requested", "request_id", req.ID, "requested_organization_id", req.RequestedOrgID)
		w.Header().Set("Location", fmt.Sprintf("/v1/connection-requests/%s", req.ID))
		writeJSON(w, http.StatusCreated, req)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleConnectionRequestScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/connection-requests/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) != 2 {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !a.ensurePolicies(w, r, policyConnWrite) {
		return
	}
	requestID := parts[0]
	switch parts[1] {
	case "accept":
		conn, err := a.directory.AcceptConnectionRequest(r.Context(), callerOrg(r), requestID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		a.audit(r.Context(), "connection.accepted", "request_id", requestID, "connection_id", conn.ID)
		writeJSON(w, http.StatusCreated, conn)
	case "reject":
		req, err := a.directory.RejectConnectionRequest(r.Context(), callerOrg(r), requestID)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		a.audit(r.Context(), "connection.rejected", "request_id", requestID)
		writeJSON(w, http.StatusOK, req)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !a.ensurePolicies(w, r, policyConnRead) {
		return
	}
	conns, err := a.directory.ListConnections(r.Context(), callerOrg(r))
	if err != nil {
		handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}
