package user

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/password"
)

// Role grants access to one of the portals.
type Role string

// Roles
const (
	RoleStudent Role = "student" // -> STUDENT PORTAL
	RoleTeacher Role = "teacher" // -> TEACHER PORTAL
	RoleAdmin   Role = "admin"   // -> ADMIN PORTAL
)

var Roles = []Role{RoleStudent, RoleTeacher, RoleAdmin}

func (r Role) Valid() bool {
	for _, role := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

func ParseRole(s string) (Role, bool) {
	r := Role(core.CleanString(s, true /* lower */))
	return r, r.Valid()
}

var (
	hashCost = bcrypt.DefaultCost

	// fixed, not a secret: it only keys the pre-hash
	prehashKey = []byte("chuo/password/v1")
)

// prehash reduces pwd to 44 bytes so that bcrypt, which stops at 72 bytes,
// sees every character of passwords up to the policy's maximum length.
func prehash(pwd string) []byte {
	mac := hmac.New(sha256.New, prehashKey)
	mac.Write([]byte(pwd))
	sum := mac.Sum(nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sum)))
	base64.StdEncoding.Encode(out, sum)
	return out
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword(prehash(pwd), hashCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, prehash(pwd))
}

func (u *User) IsAdmin() bool   { return u.Role == RoleAdmin }
func (u *User) IsTeacher() bool { return u.Role == RoleTeacher }
func (u *User) IsStudent() bool { return u.Role == RoleStudent }

// policyAttrs are the attributes a password must not resemble.
func (u *User) policyAttrs() []string { return []string{u.Name, u.Email} }

var (
	dummyHash     []byte
	dummyHashOnce sync.Once
)

// SimulatePasswordCheck costs as much as checking a real password. It is used when
// the account does not exist so that response times do not reveal which emails are registered.
func SimulatePasswordCheck(pwd string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword(prehash("dummy-password-never-matches"), hashCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, prehash(pwd))
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string `json:"name" validate:"required,notblank"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,pwdpolicy"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Role            Role   `json:"-"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	if res := password.ValidateFor(nu.Password, nu.Name, nu.Email); !res.Valid {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: res.Reason})
	}
	return svc.checkUniqueness(ctx, nu.Email)
}

// ChangePassword is submitted by an authenticated user to replace their password.
type ChangePassword struct {
	CurrentPassword    string `json:"current_password" validate:"required"`
	NewPassword        string `json:"new_password" validate:"required,pwdpolicy"`
	NewPasswordConfirm string `json:"new_password_confirm" validate:"required,eqfield=NewPassword"`
}

func (cp *ChangePassword) Validate(validate *validator.Validate, usr User) error {
	if err := validate.Struct(cp); err != nil {
		return err
	}
	if usr.CheckPassword(cp.CurrentPassword) != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "current_password", Error: textWrongPassword})
	}
	if cp.NewPassword == cp.CurrentPassword {
		return core.NewValidationError(nil, core.FieldError{Field: "new_password", Error: textSamePassword})
	}
	if res := password.ValidateFor(cp.NewPassword, usr.policyAttrs()...); !res.Valid {
		return core.NewValidationError(nil, core.FieldError{Field: "new_password", Error: res.Reason})
	}
	return nil
}

// ValidateNewPassword applies the password policy outside of a request body (e.g. admin resets).
func ValidateNewPassword(usr User, pwd string) error {
	if res := password.ValidateFor(pwd, usr.policyAttrs()...); !res.Valid {
		return core.NewValidationError(nil, core.FieldError{Field: "password", Error: res.Reason})
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
