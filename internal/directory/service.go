package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/email"
	"orgmesh.io/internal/events"
	"orgmesh.io/internal/ids"
	"orgmesh.io/internal/token"
)

// Token lifetimes per purpose.
const (
	emailVerificationTTL = 24 * time.Hour
	passwordResetTTL     = time.Hour
	passwordSetupTTL     = 72 * time.Hour
)

const minPasswordLength = 8

// Service provides the directory operations: organization signup and search,
// user lifecycle, and token-driven password/email flows. Connection
// operations live in connections.go.
type Service struct {
	store  Store
	tokens *token.Service
	sender email.Sender
	stream *events.Stream
	log    *zap.SugaredLogger
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the directory service.
func NewService(store Store, tokens *token.Service, sender email.Sender, stream *events.Stream, log *zap.SugaredLogger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("directory: store is required")
	}
	if tokens == nil {
		return nil, errors.New("directory: token service is required")
	}
	if sender == nil {
		sender = email.Noop{}
	}
	if stream == nil {
		stream = events.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	svc := &Service{
		store:  store,
		tokens: tokens,
		sender: sender,
		stream: stream,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PolicyLoader exposes the role/policy join for the policy cache.
func (s *Service) PolicyLoader() auth.PolicyLoader {
	return s.store.UserPolicies
}

// SignupInput is the self-service registration payload.
type SignupInput struct {
	OrganizationName string
	SolutionURL      string
	Email            string
	Password         string
	ConfirmPassword  string
}

// Signup registers a new organization together with its first admin user in
// one transaction, issues client credentials and a network key, and sends an
// email-verification link. Mail delivery is best-effort: a failure never
// rolls back the committed signup.
func (s *Service) Signup(ctx context.Context, in SignupInput) (Organization, User, error) {
	name := strings.TrimSpace(in.OrganizationName)
	if name == "" {
		return Organization{}, User{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	emailAddr, err := normalizeEmail(in.Email)
	if err != nil {
		return Organization{}, User{}, err
	}
	if err := validatePassword(in.Password, in.ConfirmPassword); err != nil {
		return Organization{}, User{}, err
	}

	creds, err := auth.GenerateCredentials()
	if err != nil {
		return Organization{}, User{}, err
	}
	networkKey, err := auth.GenerateNetworkKey()
	if err != nil {
		return Organization{}, User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Organization{}, User{}, err
	}

	now := s.now().UTC()
	org := Organization{
		ID:           ids.New(),
		Name:         name,
		SolutionURL:  strings.TrimSpace(in.SolutionURL),
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		NetworkKey:   networkKey,
		Status:       OrgStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	admin := User{
		ID:             ids.New(),
		OrganizationID: org.ID,
		Email:          emailAddr,
		PasswordHash:   hash,
		Role:           RoleAdmin,
		Status:         UserStatusUnverified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateOrganizationWithAdmin(ctx, &org, &admin); err != nil {
		return Organization{}, User{}, err
	}

	s.stream.Publish(events.Event{Type: events.TypeOrganizationJoined, OrganizationID: org.ID})
	s.sendVerificationMail(ctx, admin)
	return org, admin, nil
}

// Login authenticates credentials and returns the user for session-token
// issuance. Only enabled users may log in.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (User, error) {
	emailAddr = strings.TrimSpace(strings.ToLower(emailAddr))
	if emailAddr == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.store.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if user.Status != UserStatusEnabled {
		return User{}, ErrInvalidCredentials
	}
	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		// Login still succeeds; the timestamp is advisory.
		s.log.Warnw("touch last login failed", "user_id", user.ID, "error", err)
	}
	user.LastLoginAt = &now
	return user, nil
}

// ProvisionUser lets an organization admin add a user without a password.
// The user receives a password-setup link and stays unverified until the
// setup completes.
func (s *Service) ProvisionUser(ctx context.Context, orgID, emailAddr, role string) (User, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return User{}, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	emailAddr, err := normalizeEmail(emailAddr)
	if err != nil {
		return User{}, err
	}
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = RoleMember
	}
	if role != RoleAdmin && role != RoleMember {
		return User{}, fmt.Errorf("%w: unsupported role %s", ErrInvalidInput, role)
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return User{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:             ids.New(),
		OrganizationID: orgID,
		Email:          emailAddr,
		Role:           role,
		Status:         UserStatusUnverified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		return User{}, err
	}

	tok, err := s.tokens.Issue(ctx, token.KindPasswordSetup, user.ID, passwordSetupTTL)
	if err != nil {
		return User{}, err
	}
	s.deliver(ctx, email.Message{
		To:      user.Email,
		Subject: "Set up your account",
		Body:    "Use this token to set your password: " + tok.Value,
	})
	return user, nil
}

// ForgotPassword issues a reset token and mails it. An unknown email is not
// an error, to avoid leaking which addresses exist.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	emailAddr = strings.TrimSpace(strings.ToLower(emailAddr))
	if emailAddr == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := s.store.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Debugw("password reset requested for unknown email")
			return nil
		}
		return err
	}
	tok, err := s.tokens.Issue(ctx, token.KindPasswordReset, user.ID, passwordResetTTL)
	if err != nil {
		return err
	}
	s.deliver(ctx, email.Message{
		To:      user.Email,
		Subject: "Reset your password",
		Body:    "Use this token to reset your password: " + tok.Value,
	})
	return nil
}

// VerifyResetToken checks a reset token without consuming it, so the form
// page can fail fast before asking for a new password.
func (s *Service) VerifyResetToken(ctx context.Context, value string) error {
	_, err := s.tokens.Validate(ctx, token.KindPasswordReset, value)
	return err
}

// ResetPassword validates the token, updates the password and consumes the
// token. The token is consumed only after the mutation succeeds.
func (s *Service) ResetPassword(ctx context.Context, value, password, confirm string) error {
	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	tok, err := s.tokens.Validate(ctx, token.KindPasswordReset, value)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, tok.UserID, hash); err != nil {
		return err
	}
	_, err = s.tokens.Consume(ctx, token.KindPasswordReset, value)
	return err
}

// SetupPassword completes an admin-provisioned account: sets the first
// password, enables the user, consumes the setup token.
func (s *Service) SetupPassword(ctx context.Context, value, password, confirm string) error {
	if err := validatePassword(password, confirm); err != nil {
		return err
	}
	tok, err := s.tokens.Validate(ctx, token.KindPasswordSetup, value)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdateUserPassword(ctx, tok.UserID, hash); err != nil {
		return err
	}
	if err := s.store.UpdateUserStatus(ctx, tok.UserID, UserStatusEnabled); err != nil {
		return err
	}
	_, err = s.tokens.Consume(ctx, token.KindPasswordSetup, value)
	return err
}

// VerifyEmail consumes an email-verification token and enables the user.
func (s *Service) VerifyEmail(ctx context.Context, value string) (User, error) {
	tok, err := s.tokens.Validate(ctx, token.KindEmailVerification, value)
	if err != nil {
		return User{}, err
	}
	user, err := s.store.GetUser(ctx, tok.UserID)
	if err != nil {
		return User{}, err
	}
	if user.Status == UserStatusUnverified {
		if err := s.store.UpdateUserStatus(ctx, user.ID, UserStatusEnabled); err != nil {
			return User{}, err
		}
		user.Status = UserStatusEnabled
	}
	if _, err := s.tokens.Consume(ctx, token.KindEmailVerification, value); err != nil {
		return User{}, err
	}
	return user, nil
}

// GetOrganization returns one organization.
func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.GetOrganization(ctx, id)
}

// SearchOrganizations lists active organizations matching the name fragment.
func (s *Service) SearchOrganizations(ctx context.Context, query string, limit int) ([]Organization, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.SearchOrganizations(ctx, strings.TrimSpace(query), limit)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, id)
}

// ListUsers returns an organization's users.
func (s *Service) ListUsers(ctx context.Context, orgID string) ([]User, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.ListUsersByOrg(ctx, orgID)
}

// ChangeUserRole updates the role. Callers must invalidate the user's policy
// cache entry afterwards.
func (s *Service) ChangeUserRole(ctx context.Context, userID, role string) error {
	userID = strings.TrimSpace(userID)
	role = strings.TrimSpace(strings.ToLower(role))
	if userID == "" || role == "" {
		return fmt.Errorf("%w: user id and role are required", ErrInvalidInput)
	}
	if role != RoleAdmin && role != RoleMember {
		return fmt.Errorf("%w: unsupported role %s", ErrInvalidInput, role)
	}
	return s.store.UpdateUserRole(ctx, userID, role)
}

// ChangeUserStatus enables/disables/deletes a user. Callers must invalidate
// the user's policy cache entry afterwards.
func (s *Service) ChangeUserStatus(ctx context.Context, userID, status string) error {
	userID = strings.TrimSpace(userID)
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case UserStatusEnabled, UserStatusDisabled, UserStatusDeleted:
	default:
		return fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
	}
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.UpdateUserStatus(ctx, userID, status)
}

func (s *Service) sendVerificationMail(ctx context.Context, user User) {
	tok, err := s.tokens.Issue(ctx, token.KindEmailVerification, user.ID, emailVerificationTTL)
	if err != nil {
		s.log.Warnw("issue verification token failed", "user_id", user.ID, "error", err)
		return
	}
	s.deliver(ctx, email.Message{
		To:      user.Email,
		Subject: "Verify your email",
		Body:    "Use this token to verify your email address: " + tok.Value,
	})
}

// deliver sends mail best-effort. A delivery failure must not fail or roll
// back the state transition that already committed.
func (s *Service) deliver(ctx context.Context, msg email.Message) {
	if err := s.sender.Send(ctx, msg); err != nil {
		s.log.Warnw("email delivery failed", "to", msg.To, "subject", msg.Subject, "error", err)
	}
}

func normalizeEmail(raw string) (string, error) {
	addr := strings.TrimSpace(strings.ToLower(raw))
	if addr == "" || !strings.Contains(addr, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return addr, nil
}

func validatePassword(password, confirm string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if password != confirm {
		return fmt.Errorf("%w: password confirmation does not match", ErrInvalidInput)
	}
	return nil
}
