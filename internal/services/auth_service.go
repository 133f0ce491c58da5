package services

import (
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type AuthStore interface {
	FindUserByEmail(email string) (*User, error)
	GetUser(id string) (*User, error)
	AddUser(u *User) error
}

type TokenSigner func(uid, email string, admin bool, ttl time.Duration) (string, error)

type AuthService struct {
	store       AuthStore
	now         func() time.Time
	newID       func() string
	signToken   TokenSigner
	tokenTTL    time.Duration
	adminEmails map[string]bool
}

type AuthResult struct {
	Token  string
	UserID string
	Admin  bool
}

func NewAuthService(store AuthStore, signer TokenSigner) *AuthService {
	return &AuthService{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       NewEntityID,
		signToken:   signer,
		tokenTTL:    30 * 24 * time.Hour,
		adminEmails: adminEmailsFromEnv(),
	}
}

// adminEmailsFromEnv reads the comma-separated bootstrap list; accounts
// registered with a listed email get the admin flag.
func adminEmailsFromEnv() map[string]bool {
	out := map[string]bool{}
	for _, e := range strings.Split(os.Getenv("VOCATIO_ADMIN_EMAILS"), ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			out[e] = true
		}
	}
	return out
}

func (s *AuthService) Register(email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	existing, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("email exists")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{ID: s.newID(), Email: email, PassHash: hash, Admin: s.adminEmails[strings.ToLower(email)], CreatedAt: s.now()}
	if err := s.store.AddUser(u); err != nil {
		return nil, err
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, u.Admin, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID, Admin: u.Admin}, nil
}

func (s *AuthService) Login(email, password string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("email/password required")
	}
	u, err := s.store.FindUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(u.PassHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	token, err := s.signToken(u.ID, u.Email, u.Admin, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, UserID: u.ID, Admin: u.Admin}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
