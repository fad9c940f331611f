package user_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/user"
	"github.com/trezcool/chuo/storage/database/inmem"
	"github.com/trezcool/chuo/tests"
)

const strongPwd = "Tr0ub4dor&7Qz"

func setup() (*user.Service, user.Repository, *testutil.Mailer) {
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	mailer := testutil.NewMailer()
	return user.NewService(repo, mailer), repo, mailer
}

func fieldErrors(t *testing.T, err error) []core.FieldError {
	t.Helper()
	_, translator := testutil.NewValidator()
	if vErrs, ok := err.(validator.ValidationErrors); ok {
		return core.TranslateValidationErrors(vErrs, translator)
	}
	appErr, ok := core.AsError(err)
	require.True(t, ok, "unexpected error: %v", err)
	require.Equal(t, core.KindValidation, appErr.Kind)
	return appErr.Fields
}

func TestUser_json(t *testing.T) {
	usr := user.User{ID: "1", Email: "a@chuo.ac", Role: user.RoleStudent}
	require.NoError(t, usr.SetPassword(strongPwd))
	data, err := json.Marshal(usr)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
	assert.NotContains(t, string(data), string(usr.PasswordHash))
}

func TestNewUser_Validate(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup()
	validate, _ := testutil.NewValidator()
	testutil.CreateUser(t, repo, "Taken", "taken@chuo.ac", "", user.RoleStudent, true)

	tests := []struct {
		name    string
		data    user.NewUser
		wantErr []core.FieldError
	}{
		{
			name: "valid",
			data: user.NewUser{Name: " Amani Juma ", Email: " Amani@Chuo.ac ", Password: strongPwd, PasswordConfirm: strongPwd},
		},
		{
			name: "missing fields",
			data: user.NewUser{},
			wantErr: []core.FieldError{
				{Field: "name", Error: "this field is required"},
				{Field: "email", Error: "this field is required"},
				{Field: "password", Error: "this field is required"},
				{Field: "password_confirm", Error: "this field is required"},
			},
		},
		{
			name:    "weak password",
			data:    user.NewUser{Name: "Amani", Email: "amani@chuo.ac", Password: "password123", PasswordConfirm: "password123"},
			wantErr: []core.FieldError{{Field: "password", Error: "password is too common"}},
		},
		{
			name:    "password like the name",
			data:    user.NewUser{Name: "Kabangu", Email: "k@chuo.ac", Password: "Kabangu1!", PasswordConfirm: "Kabangu1!"},
			wantErr: []core.FieldError{{Field: "password", Error: "password cannot be similar to user attributes"}},
		},
		{
			name:    "email taken",
			data:    user.NewUser{Name: "Amani", Email: "TAKEN@chuo.ac", Password: strongPwd, PasswordConfirm: strongPwd},
			wantErr: []core.FieldError{{Field: "email", Error: user.ErrEmailExists.Error()}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate(ctx, validate, svc)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, "Amani Juma", tt.data.Name)
				assert.Equal(t, "amani@chuo.ac", tt.data.Email)
				return
			}
			assert.Equal(t, tt.wantErr, fieldErrors(t, err))
		})
	}
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup()

	usr, err := svc.Register(ctx, user.NewUser{Name: "Amani", Email: "amani@chuo.ac", Password: strongPwd})
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, user.RoleStudent, usr.Role, "defaults to student")
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword(strongPwd))

	teacher, err := svc.Register(ctx, user.NewUser{Name: "Mwalimu", Email: "mwalimu@chuo.ac", Password: strongPwd, Role: user.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, user.RoleTeacher, teacher.Role)

	found, err := svc.GetByEmail(ctx, " AMANI@chuo.ac")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, found.ID)

	_, err = svc.GetByID(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, err)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, repo, mailer := setup()
	validate, _ := testutil.NewValidator()
	usr := testutil.CreateUser(t, repo, "Amani Juma", "amani@chuo.ac", strongPwd, user.RoleStudent, true)

	tests := []struct {
		name    string
		data    user.ChangePassword
		wantErr []core.FieldError
	}{
		{
			name:    "wrong current password",
			data:    user.ChangePassword{CurrentPassword: "nope", NewPassword: "N3w-Passphrase!", NewPasswordConfirm: "N3w-Passphrase!"},
			wantErr: []core.FieldError{{Field: "current_password", Error: "current password is incorrect"}},
		},
		{
			name:    "confirmation mismatch",
			data:    user.ChangePassword{CurrentPassword: strongPwd, NewPassword: "N3w-Passphrase!", NewPasswordConfirm: "N3w-Passphrase?"},
			wantErr: []core.FieldError{{Field: "new_password_confirm", Error: "new_password_confirm must be equal to NewPassword"}},
		},
		{
			name:    "same password",
			data:    user.ChangePassword{CurrentPassword: strongPwd, NewPassword: strongPwd, NewPasswordConfirm: strongPwd},
			wantErr: []core.FieldError{{Field: "new_password", Error: "new password must be different from the current password"}},
		},
		{
			name:    "weak new password",
			data:    user.ChangePassword{CurrentPassword: strongPwd, NewPassword: "12345678901", NewPasswordConfirm: "12345678901"},
			wantErr: []core.FieldError{{Field: "new_password", Error: "password cannot be entirely numeric"}},
		},
		{
			name: "ok",
			data: user.ChangePassword{CurrentPassword: strongPwd, NewPassword: "N3w-Passphrase!", NewPasswordConfirm: "N3w-Passphrase!"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate(validate, usr)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, fieldErrors(t, err))
				return
			}
			require.NoError(t, err)

			updated, err := svc.ChangePassword(ctx, usr, tt.data, "192.0.2.7")
			require.NoError(t, err)
			assert.NoError(t, updated.CheckPassword("N3w-Passphrase!"))
			assert.Error(t, updated.CheckPassword(strongPwd))

			sent := mailer.Sent()
			require.Len(t, sent, 1)
			assert.Equal(t, "Your password was changed", sent[0].Subject)
			assert.Equal(t, "amani@chuo.ac", sent[0].To[0].Address)
			assert.Contains(t, sent[0].Body, "192.0.2.7")
		})
	}
}

func TestService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup()
	testutil.CreateUser(t, repo, "Amani Juma", "amani@chuo.ac", strongPwd, user.RoleStudent, true)

	_, err := svc.ResetPassword(ctx, "amani@chuo.ac", "short")
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = svc.ResetPassword(ctx, "nobody@chuo.ac", "N3w-Passphrase!")
	assert.Equal(t, user.ErrNotFound, err)

	usr, err := svc.ResetPassword(ctx, "amani@chuo.ac", "N3w-Passphrase!")
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("N3w-Passphrase!"))
}

// unguardedRepo lets a duplicate email through the pre-check, as a concurrent registration would.
type unguardedRepo struct {
	user.Repository
}

func (unguardedRepo) CheckEmailUniqueness(context.Context, string, ...user.User) error { return nil }

func TestService_Register_emailTakenMeanwhile(t *testing.T) {
	ctx := context.Background()
	svc := user.NewService(unguardedRepo{inmemdb.NewUserRepository(inmemdb.Open())}, testutil.NewMailer())
	nu := user.NewUser{Name: "Amani", Email: "amani@chuo.ac", Password: strongPwd, PasswordConfirm: strongPwd}

	_, err := svc.Register(ctx, nu)
	require.NoError(t, err)

	_, err = svc.Register(ctx, nu)
	assert.Equal(t, []core.FieldError{{Field: "email", Error: user.ErrEmailExists.Error()}}, fieldErrors(t, err))
}

func TestService_longPasswords(t *testing.T) {
	ctx := context.Background()
	validate, _ := testutil.NewValidator()

	tests := []struct {
		name   string
		email  string
		pwd    string
		newPwd string // differs from pwd past bcrypt's 72 bytes only
	}{
		{
			name:   "100 ascii characters",
			email:  "ascii@chuo.ac",
			pwd:    strings.Repeat("Kx7#mQ2!vR", 10),
			newPwd: strings.Repeat("Kx7#mQ2!vR", 9) + "Kx7#mQ2!vS",
		},
		{
			name:   "128 multibyte characters",
			email:  "utf8@chuo.ac",
			pwd:    strings.Repeat("Żółw-Ją9", 16),
			newPwd: strings.Repeat("Żółw-Ją9", 15) + "Żółw-Ją8",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := setup()

			nu := user.NewUser{Name: "Amani Juma", Email: tt.email, Password: tt.pwd, PasswordConfirm: tt.pwd}
			require.NoError(t, nu.Validate(ctx, validate, svc))
			usr, err := svc.Register(ctx, nu)
			require.NoError(t, err)
			assert.NoError(t, usr.CheckPassword(tt.pwd))
			assert.Error(t, usr.CheckPassword(tt.newPwd))
			assert.NotPanics(t, func() { user.SimulatePasswordCheck(tt.pwd) })

			cp := user.ChangePassword{CurrentPassword: tt.pwd, NewPassword: tt.newPwd, NewPasswordConfirm: tt.newPwd}
			require.NoError(t, cp.Validate(validate, usr))
			usr, err = svc.ChangePassword(ctx, usr, cp, "192.0.2.7")
			require.NoError(t, err)
			assert.NoError(t, usr.CheckPassword(tt.newPwd))
			assert.Error(t, usr.CheckPassword(tt.pwd))

			usr, err = svc.ResetPassword(ctx, tt.email, tt.pwd)
			require.NoError(t, err)
			assert.NoError(t, usr.CheckPassword(tt.pwd))
		})
	}
}

func TestService_SetLastLogin(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup()
	usr := testutil.CreateUser(t, repo, "Amani", "amani@chuo.ac", "", user.RoleStudent, true)
	require.True(t, usr.LastLogin.IsZero())

	usr, err := svc.SetLastLogin(ctx, usr)
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())

	stored, err := svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, usr.LastLogin, stored.LastLogin)
}

func TestParseRole(t *testing.T) {
	r, ok := user.ParseRole(" Teacher ")
	assert.True(t, ok)
	assert.Equal(t, user.RoleTeacher, r)

	_, ok = user.ParseRole("superuser")
	assert.False(t, ok)
}
