package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/auth"
	"github.com/trezcool/chuo/core/user"
)

func newTestLogger(t *testing.T) (*RollbarLogger, *bytes.Buffer) {
	conf, err := core.DefaultConfig(core.EnvTest)
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	logger := NewRollbarLogger(log.New(buf, "", 0), conf)
	logger.Enable(false)
	return logger, buf
}

func TestRollbarLogger_prepare(t *testing.T) {
	logger, _ := newTestLogger(t)
	prcpl := auth.Principal{ID: "u-1", Email: "amani@chuo.ac", Role: user.RoleStudent}
	err := errors.New("boom")
	ctx := map[string]interface{}{"path": "/api/files/1"}

	tests := []struct {
		name string
		args []interface{}
		want []interface{}
	}{
		{name: "no args", want: []interface{}{"msg"}},
		{name: "principal removed", args: []interface{}{err, prcpl}, want: []interface{}{"msg", err}},
		{name: "principal pointer removed", args: []interface{}{&prcpl, ctx}, want: []interface{}{"msg", ctx}},
		{name: "nil principal kept", args: []interface{}{(*auth.Principal)(nil)}, want: []interface{}{"msg", (*auth.Principal)(nil)}},
		{name: "only first principal used", args: []interface{}{prcpl, prcpl}, want: []interface{}{"msg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logger.prepare("msg", tt.args))
		})
	}
}

func TestRollbarLogger_print(t *testing.T) {
	logger, buf := newTestLogger(t)
	prcpl := auth.Principal{ID: "u-1", Email: "amani@chuo.ac", Role: user.RoleTeacher}

	logger.Warn("access denied", map[string]interface{}{"path": "/admin"}, prcpl)

	out := buf.String()
	assert.Contains(t, out, "[WARN] access denied")
	assert.Contains(t, out, "map[path:/admin]")
	assert.Contains(t, out, "user: u-1 (teacher)")
	assert.NotContains(t, out, "amani@chuo.ac")
}
