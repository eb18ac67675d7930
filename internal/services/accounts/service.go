// Package accounts implements registration, login, token refresh and the
// user directory.
package accounts

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/careslot/careslot/internal/domain/user"
	"github.com/careslot/careslot/internal/errors"
	"github.com/careslot/careslot/internal/logging"
	"github.com/careslot/careslot/internal/metrics"
	"github.com/careslot/careslot/internal/storage"
	"github.com/careslot/careslot/internal/token"
	"github.com/careslot/careslot/internal/uow"
)

// CredentialHasher hashes and verifies passwords.
type CredentialHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher is the production CredentialHasher.
type BcryptHasher struct {
	Cost int
}

// Hash returns the bcrypt hash of password.
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", errors.Internal("hash password", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash.
func (h BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenPair is the response of login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// RegisterInput carries a registration request. Registration always creates
// a patient; there is no way to request another role through the public API.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

const minPasswordLength = 8

// Service implements the account operations.
type Service struct {
	store  storage.Store
	uow    *uow.Manager
	tokens *token.Issuer
	hasher CredentialHasher
	log    *logging.Logger
}

// New constructs the accounts service.
func New(store storage.Store, manager *uow.Manager, tokens *token.Issuer, hasher CredentialHasher, log *logging.Logger) *Service {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &Service{store: store, uow: manager, tokens: tokens, hasher: hasher, log: log}
}

// Register creates a new patient account. The email is normalized to lower
// case; a duplicate surfaces as a conflict. Doctor and admin accounts are
// provisioned out of band, never through registration.
func (s *Service) Register(ctx context.Context, in RegisterInput) (user.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return user.User{}, errors.Validation("a valid email is required")
	}
	if len(in.Password) < minPasswordLength {
		return user.User{}, errors.Validation("password must be at least 8 characters")
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return user.User{}, err
	}

	var created user.User
	var actorID string
	err = s.uow.Run(ctx, &actorID, "register", func(ctx context.Context, sess storage.Session) error {
		u, err := sess.CreateUser(ctx, user.User{
			Email:        in.Email,
			PasswordHash: hash,
			Role:         user.RolePatient,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Phone:        in.Phone,
			IsActive:     true,
		})
		if err != nil {
			return err
		}
		created = u
		actorID = u.ID
		return nil
	})
	metrics.RecordAuthEvent("register", err == nil)
	if err != nil {
		return user.User{}, err
	}

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id": created.ID,
		"role":    string(created.Role),
	}).Info("account registered")
	created.PasswordHash = ""
	return created, nil
}

// EnsureAdmin provisions the administrator account at startup. It is the only
// path that creates an admin; if the email is already taken the call is a
// no-op.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return errors.Validation("a valid admin email is required")
	}
	if len(password) < minPasswordLength {
		return errors.Validation("admin password must be at least 8 characters")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	var actorID string
	err = s.uow.Run(ctx, &actorID, "seed_admin", func(ctx context.Context, sess storage.Session) error {
		u, err := sess.CreateUser(ctx, user.User{
			Email:        email,
			PasswordHash: hash,
			Role:         user.RoleAdmin,
			IsActive:     true,
		})
		if err != nil {
			return err
		}
		actorID = u.ID
		return nil
	})
	if errors.IsConflict(err) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.WithFields(map[string]interface{}{"email": email}).Info("admin account seeded")
	return nil
}

// Login verifies credentials and issues a token pair. The attempt is recorded
// as a unit of work either way; a failed attempt has no actor on its audit
// entry because none was authenticated.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	u, lookupErr := s.store.GetUserByEmail(ctx, email)
	valid := lookupErr == nil && u.IsActive && s.hasher.Verify(u.PasswordHash, password)

	var actor *string
	if valid {
		actor = &u.ID
	}
	err := s.uow.Run(ctx, actor, "login", func(context.Context, storage.Session) error {
		if !valid {
			return errors.Unauthorized("invalid credentials")
		}
		return nil
	})
	metrics.RecordAuthEvent("login", err == nil)
	if err != nil {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": strings.ToLower(email)})
		return TokenPair{}, err
	}

	return s.issuePair(u)
}

// Refresh exchanges a valid refresh token for a fresh pair. The stored user
// is loaded so the new access token carries the current role.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken)
	if err != nil {
		metrics.RecordAuthEvent("refresh", false)
		return TokenPair{}, err
	}
	if !token.IsRefresh(claims) {
		metrics.RecordAuthEvent("refresh", false)
		return TokenPair{}, errors.WrongTokenType()
	}

	u, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil || !u.IsActive {
		metrics.RecordAuthEvent("refresh", false)
		return TokenPair{}, errors.Unauthorized("account unavailable")
	}

	metrics.RecordAuthEvent("refresh", true)
	return s.issuePair(u)
}

func (s *Service) issuePair(u user.User) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(u.ID, token.WithRole(string(u.Role)), token.WithEmail(u.Email))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(u.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.tokens.AccessLifetime().Seconds()),
	}, nil
}

// Me returns the stored account of the authenticated caller.
func (s *Service) Me(ctx context.Context, userID string) (user.User, error) {
	return s.store.GetUser(ctx, userID)
}

// ListDoctors returns the doctor directory, visible to any authenticated
// caller.
func (s *Service) ListDoctors(ctx context.Context, limit, offset int) (user.Page, error) {
	return s.listByRole(ctx, user.RoleDoctor, limit, offset)
}

// ListPatients returns the patient directory. Patients cannot browse each
// other; only doctors and admins may call this.
func (s *Service) ListPatients(ctx context.Context, actor user.Ref, limit, offset int) (user.Page, error) {
	if actor.Role != user.RoleAdmin && actor.Role != user.RoleDoctor {
		return user.Page{}, errors.Forbidden("insufficient role")
	}
	return s.listByRole(ctx, user.RolePatient, limit, offset)
}

func (s *Service) listByRole(ctx context.Context, role user.Role, limit, offset int) (user.Page, error) {
	limit, offset = clampPage(limit, offset)
	items, total, err := s.store.ListUsersByRole(ctx, role, limit, offset)
	if err != nil {
		return user.Page{}, err
	}
	if items == nil {
		items = []user.User{}
	}
	return user.Page{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasNext: offset+limit < total,
	}, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
