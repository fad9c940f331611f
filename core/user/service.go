package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrEmailExists = errors.New("a user with this email already exists")

	textWrongPassword = "current password is incorrect"
	textSamePassword  = "new password must be different from the current password"

	nowFunc = time.Now // mockable
)

type (
	Repository interface {
		// CheckEmailUniqueness returns ErrEmailExists if email is taken by a user other than excludedUsers.
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		QueryAllUsers(ctx context.Context) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// UpdateUser saves every field of usr but ID and CreatedAt.
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo    Repository
		mailSvc core.EmailService
	}
)

func NewService(repo Repository, mailSvc core.EmailService) *Service {
	return &Service{repo: repo, mailSvc: mailSvc}
}

func (svc *Service) checkUniqueness(ctx context.Context, email string, exclUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, email, exclUsers...); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return emailTaken()
		}
		return errors.Wrap(err, "checking email uniqueness")
	}
	return nil
}

func emailTaken() error {
	return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
}

// Register creates an active user. nu must have been validated.
func (svc *Service) Register(ctx context.Context, nu NewUser) (User, error) {
	role := nu.Role
	if !role.Valid() {
		role = RoleStudent
	}
	now := nowFunc().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Name:      nu.Name,
		Email:     normalizeEmail(nu.Email),
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if errors.Cause(err) == ErrEmailExists {
		// taken since nu was validated
		return User{}, emailTaken()
	}
	return usr, err
}

func (svc *Service) QueryAll(ctx context.Context) ([]User, error) {
	return svc.repo.QueryAllUsers(ctx)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, normalizeEmail(email))
}

func (svc *Service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// ChangePassword replaces the password of usr and notifies them. cp must have been validated.
func (svc *Service) ChangePassword(ctx context.Context, usr User, cp ChangePassword, sourceIP string) (User, error) {
	return svc.setPassword(ctx, usr, cp.NewPassword, sourceIP)
}

// ResetPassword sets a new password for the user with email, enforcing the password policy.
func (svc *Service) ResetPassword(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err = ValidateNewPassword(usr, pwd); err != nil {
		return User{}, err
	}
	return svc.setPassword(ctx, usr, pwd, "")
}

func (svc *Service) setPassword(ctx context.Context, usr User, pwd, sourceIP string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "hashing password")
	}
	now := nowFunc().UTC()
	usr.UpdatedAt = now
	usr, err := svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}

	if sourceIP == "" {
		sourceIP = "an administrator"
	}
	svc.mailSvc.SendMessages(core.PasswordChangedMessage(usr.MailAddress(), now, sourceIP))
	return usr, nil
}

// SetActive activates or deactivates usr.
func (svc *Service) SetActive(ctx context.Context, usr User, active bool) (User, error) {
	usr.IsActive = active
	usr.UpdatedAt = nowFunc().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (u *User) MailAddress() mail.Address {
	return mail.Address{Name: u.Name, Address: u.Email}
}
