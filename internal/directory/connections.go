package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orgmesh.io/internal/email"
	"orgmesh.io/internal/events"
	"orgmesh.io/internal/ids"
)

// RequestConnection opens a pending request from one organization to another.
// At most one link (pending request in either direction, or an accepted
// connection) may exist per unordered pair.
func (s *Service) RequestConnection(ctx context.Context, requestingOrgID, requestedOrgID string) (ConnectionRequest, error) {
	requestingOrgID = strings.TrimSpace(requestingOrgID)
	requestedOrgID = strings.TrimSpace(requestedOrgID)
	if requestingOrgID == "" || requestedOrgID == "" {
		return ConnectionRequest{}, fmt.Errorf("%w: both organization ids are required", ErrInvalidInput)
	}
	if requestingOrgID == requestedOrgID {
		return ConnectionRequest{}, ErrSelfConnection
	}
	if _, err := s.store.GetOrganization(ctx, requestingOrgID); err != nil {
		return ConnectionRequest{}, err
	}
	if _, err := s.store.GetOrganization(ctx, requestedOrgID); err != nil {
		return ConnectionRequest{}, err
	}

	// Pre-check keeps the common duplicate out with a clean error; the
	// store's unique index still backstops the race.
	linked, err := s.store.PairLinked(ctx, requestingOrgID, requestedOrgID)
	if err != nil {
		return ConnectionRequest{}, err
	}
	if linked {
		return ConnectionRequest{}, fmt.Errorf("%w: organizations are already linked", ErrConflict)
	}

	now := s.now().UTC()
	req := ConnectionRequest{
		ID:              ids.New(),
		RequestingOrgID: requestingOrgID,
		RequestedOrgID:  requestedOrgID,
		Status:          RequestStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateConnectionRequest(ctx, &req); err != nil {
		return ConnectionRequest{}, err
	}

	s.stream.Publish(events.Event{
		Type:              events.TypeConnectionRequested,
		OrganizationID:    requestedOrgID,
		PeerOrganization:  requestingOrgID,
		ConnectionRequest: req.ID,
	})
	s.notifyOrgAdmins(ctx, requestedOrgID, email.Message{
		Subject: "New connection request",
		Body:    "Another organization has requested to connect with yours. Review it in the directory.",
	})
	return req, nil
}

// AcceptConnectionRequest promotes a pending request into a connection. Only
// a caller from the requested (recipient) organization may accept, and only
// while the request is still pending. Promotion is atomic: the connection
// appears and the request disappears together.
func (s *Service) AcceptConnectionRequest(ctx context.Context, callerOrgID, requestID string) (Connection, error) {
	req, err := s.pendingRequestFor(ctx, callerOrgID, requestID)
	if err != nil {
		return Connection{}, err
	}
	conn, err := s.store.PromoteConnectionRequest(ctx, req)
	if err != nil {
		return Connection{}, err
	}
	s.stream.Publish(events.Event{
		Type:              events.TypeConnectionAccepted,
		OrganizationID:    req.RequestingOrgID,
		PeerOrganization:  req.RequestedOrgID,
		ConnectionRequest: req.ID,
	})
	return conn, nil
}

// RejectConnectionRequest marks a pending request rejected. The row is kept
// as a terminal record; a rejected pair may be re-requested later.
func (s *Service) RejectConnectionRequest(ctx context.Context, callerOrgID, requestID string) (ConnectionRequest, error) {
	req, err := s.pendingRequestFor(ctx, callerOrgID, requestID)
	if err != nil {
		return ConnectionRequest{}, err
	}
	now := s.now().UTC()
	if err := s.store.MarkConnectionRequestRejected(ctx, req.ID, now); err != nil {
		return ConnectionRequest{}, err
	}
	req.Status = RequestStatusRejected
	req.UpdatedAt = now
	s.stream.Publish(events.Event{
		Type:              events.TypeConnectionRejected,
		OrganizationID:    req.RequestingOrgID,
		PeerOrganization:  req.RequestedOrgID,
		ConnectionRequest: req.ID,
	})
	return req, nil
}

// ListConnectionRequests returns requests where the organization is either
// side, pending and rejected alike.
func (s *Service) ListConnectionRequests(ctx context.Context, orgID string) ([]ConnectionRequest, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.ListConnectionRequestsForOrg(ctx, orgID)
}

// ListConnections returns the organization's accepted connections.
func (s *Service) ListConnections(ctx context.Context, orgID string) ([]Connection, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.ListConnectionsForOrg(ctx, orgID)
}

// pendingRequestFor loads a request and enforces that it is still pending and
// that the caller belongs to the recipient organization.
func (s *Service) pendingRequestFor(ctx context.Context, callerOrgID, requestID string) (ConnectionRequest, error) {
	callerOrgID = strings.TrimSpace(callerOrgID)
	requestID = strings.TrimSpace(requestID)
	if callerOrgID == "" || requestID == "" {
		return ConnectionRequest{}, fmt.Errorf("%w: organization id and request id are required", ErrInvalidInput)
	}
	req, err := s.store.GetConnectionRequest(ctx, requestID)
	if err != nil {
		return ConnectionRequest{}, err
	}
	if req.RequestedOrgID != callerOrgID {
		return ConnectionRequest{}, fmt.Errorf("%w: only the requested organization may decide", ErrForbidden)
	}
	if req.Status != RequestStatusPending {
		return ConnectionRequest{}, fmt.Errorf("%w: request is no longer pending", ErrConflict)
	}
	return req, nil
}

// notifyOrgAdmins mails every admin of the organization, best-effort.
func (s *Service) notifyOrgAdmins(ctx context.Context, orgID string, msg email.Message) {
	users, err := s.store.ListUsersByOrg(ctx, orgID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warnw("list users for notification failed", "organization_id", orgID, "error", err)
		}
		return
	}
	for _, u := range users {
		if u.Role != RoleAdmin || u.Status != UserStatusEnabled {
			continue
		}
		msg.To = u.Email
		s.deliver(ctx, msg)
	}
}
