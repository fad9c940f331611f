package database

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
)

func TestDSN(t *testing.T) {
	conf, err := core.DefaultConfig(core.EnvTest)
	require.NoError(t, err)
	conf.Database.User = "app"
	conf.Database.Password = "s3cr:t@"
	conf.Database.AdminUser = "root"
	conf.Database.AdminPassword = "r00t"

	tests := []struct {
		name       string
		admin      bool
		disableTLS bool
		wantUser   string
		wantSSL    string
	}{
		{name: "app user", wantUser: "app", wantSSL: "require"},
		{name: "admin user", admin: true, wantUser: "root", wantSSL: "require"},
		{name: "tls disabled", disableTLS: true, wantUser: "app", wantSSL: "disable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf.Database.DisableTLS = tt.disableTLS
			u, err := url.Parse(dsn("chuo", tt.admin, conf))
			require.NoError(t, err)
			assert.Equal(t, "postgres", u.Scheme)
			assert.Equal(t, "localhost:5432", u.Host)
			assert.Equal(t, "/chuo", u.Path)
			assert.Equal(t, tt.wantUser, u.User.Username())
			assert.Equal(t, tt.wantSSL, u.Query().Get("sslmode"))
			assert.Equal(t, "utc", u.Query().Get("timezone"))
		})
	}

	pwd, _ := url.Parse(dsn("chuo", false, conf))
	got, _ := pwd.User.Password()
	assert.Equal(t, "s3cr:t@", got)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir(migrationsDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "00001_create_users.sql", entries[0].Name())
}
