package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectionFixture(t *testing.T) (*serviceFixture, Organization, Organization) {
	t.Helper()
	fx := newServiceFixture(t)
	orgA, _ := fx.signup(t, "Acme Corp", "admin@acme.example")
	orgB, _ := fx.signup(t, "Globex", "admin@globex.example")
	return fx, orgA, orgB
}

func TestRequestConnection(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusPending, req.Status)
	assert.Equal(t, orgA.ID, req.RequestingOrgID)
	assert.Equal(t, orgB.ID, req.RequestedOrgID)
}

func TestRequestConnectionSelf(t *testing.T) {
	fx, orgA, _ := connectionFixture(t)

	_, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgA.ID)
	assert.ErrorIs(t, err, ErrSelfConnection)
	assert.ErrorIs(t, err, ErrInvalidInput, "self connection is a kind of invalid input")
}

func TestRequestConnectionUnknownOrg(t *testing.T) {
	fx, orgA, _ := connectionFixture(t)

	_, err := fx.svc.RequestConnection(context.Background(), orgA.ID, "org-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestConnectionDuplicatePending(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	_, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	_, err = fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// The mirrored direction counts as the same link while one is pending.
	_, err = fx.svc.RequestConnection(context.Background(), orgB.ID, orgA.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAcceptConnectionRequest(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	conn, err := fx.svc.AcceptConnectionRequest(context.Background(), orgB.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, orgB.ID, conn.Peer(orgA.ID))
	assert.Equal(t, orgA.ID, conn.Peer(orgB.ID))
	assert.Equal(t, req.CreatedAt, conn.RequestedAt)

	// The request row is gone; both sides see the connection.
	_, err = fx.svc.AcceptConnectionRequest(context.Background(), orgB.ID, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, orgID := range []string{orgA.ID, orgB.ID} {
		conns, err := fx.svc.ListConnections(context.Background(), orgID)
		require.NoError(t, err)
		assert.Len(t, conns, 1)
	}
}

func TestAcceptRequiresRecipient(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)
	orgC, _ := fx.signup(t, "Initech", "admin@initech.example")

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	// Neither the requester nor a third party may accept.
	_, err = fx.svc.AcceptConnectionRequest(context.Background(), orgA.ID, req.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = fx.svc.AcceptConnectionRequest(context.Background(), orgC.ID, req.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	// The request is still pending for the real recipient.
	_, err = fx.svc.AcceptConnectionRequest(context.Background(), orgB.ID, req.ID)
	assert.NoError(t, err)
}

func TestRejectConnectionRequest(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	rejected, err := fx.svc.RejectConnectionRequest(context.Background(), orgB.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestStatusRejected, rejected.Status)

	// Rejection is terminal: the request can no longer be accepted.
	_, err = fx.svc.AcceptConnectionRequest(context.Background(), orgB.ID, req.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// But a rejected pair may try again.
	again, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, again.ID)
}

func TestRejectRequiresRecipient(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	_, err = fx.svc.RejectConnectionRequest(context.Background(), orgA.ID, req.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequestBlockedWhileConnected(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)
	_, err = fx.svc.AcceptConnectionRequest(context.Background(), orgB.ID, req.ID)
	require.NoError(t, err)

	for _, pair := range [][2]string{{orgA.ID, orgB.ID}, {orgB.ID, orgA.ID}} {
		_, err = fx.svc.RequestConnection(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, ErrConflict)
	}
}

func TestListConnectionRequestsCoversBothSides(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	req, err := fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	for _, orgID := range []string{orgA.ID, orgB.ID} {
		reqs, err := fx.svc.ListConnectionRequests(context.Background(), orgID)
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		assert.Equal(t, req.ID, reqs[0].ID)
	}
}

func TestRequestNotifiesRecipientAdmins(t *testing.T) {
	fx, orgA, orgB := connectionFixture(t)

	// Only enabled admins of the requested org are notified.
	admins, err := fx.svc.ListUsers(context.Background(), orgB.ID)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	require.NoError(t, fx.svc.ChangeUserStatus(context.Background(), admins[0].ID, UserStatusEnabled))

	before := len(fx.sender.messages())
	_, err = fx.svc.RequestConnection(context.Background(), orgA.ID, orgB.ID)
	require.NoError(t, err)

	msgs := fx.sender.messages()[before:]
	require.Len(t, msgs, 1)
	assert.Equal(t, "admin@globex.example", msgs[0].To)
	assert.Contains(t, msgs[0].Subject, "connection request")
}
