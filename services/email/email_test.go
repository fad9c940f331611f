package emailsvc

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/tests"
)

func testConfig(t *testing.T) *core.Config {
	conf, err := core.DefaultConfig(core.EnvTest)
	require.NoError(t, err)
	conf.Email.DefaultFrom = "Chuo <noreply@chuo.ac>"
	conf.Email.SendgridAPIKey = "SG.test"
	return conf
}

func testMessage() *core.EmailMessage {
	return core.PasswordChangedMessage(
		mail.Address{Name: "Amani Juma", Address: "amani@chuo.ac"},
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		"10.0.0.7",
	)
}

func TestConsoleService_render(t *testing.T) {
	defer func() { nowFunc = time.Now }()
	nowFunc = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	svc := NewConsoleService(log.New(io.Discard, "", 0), testConfig(t)).(*consoleService)
	out := svc.render(*testMessage())

	assert.Contains(t, out, "From: \"Chuo\" <noreply@chuo.ac>\r\n")
	assert.Contains(t, out, "Subject: [Chuo] Your password was changed\r\n")
	assert.Contains(t, out, "To: \"Amani Juma\" <amani@chuo.ac>\r\n")
	assert.Contains(t, out, "Date: Sun, 01 Mar 2026 10:00:00 +0000\r\n")
	assert.Contains(t, out, "from 10.0.0.7")
	assert.NotContains(t, out, "CC:")
}

func TestConsoleService_SendMessages(t *testing.T) {
	buf := new(syncBuffer)
	svc := NewConsoleService(log.New(buf, "", 0), testConfig(t))

	svc.SendMessages(testMessage(), &core.EmailMessage{Subject: "no recipients", Body: "x"})
	assert.Eventually(t, func() bool { return bytes.Contains(buf.Bytes(), []byte("Your password was changed")) }, time.Second, 10*time.Millisecond)
	assert.NotContains(t, buf.String(), "no recipients")
}

func TestSendgridService(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	defer func(h string) { host = h }(host)
	host = srv.URL

	logger := testutil.NewLogger()
	svc := NewSendgridService(testConfig(t), logger).(*sendgridService)
	svc.send(*testMessage())

	assert.Equal(t, "Bearer SG.test", gotAuth)
	require.NotNil(t, gotBody)
	assert.Equal(t, "noreply@chuo.ac", gotBody["from"].(map[string]interface{})["email"])
	p := gotBody["personalizations"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "[Chuo] Your password was changed", p["subject"])
	assert.Empty(t, logger.Messages("error"))
}

func TestSendgridService_errorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	defer func(h string) { host = h }(host)
	host = srv.URL

	logger := testutil.NewLogger()
	svc := NewSendgridService(testConfig(t), logger).(*sendgridService)
	svc.send(*testMessage())

	if msgs := logger.Messages("error"); assert.Len(t, msgs, 1) {
		assert.Contains(t, msgs[0], "status: 401")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string { return string(b.Bytes()) }
