package logsvc

import (
	"bytes"
	"log"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mashindano/core"
	"github.com/trezcool/mashindano/core/user"
)

func TestRollbarLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewRollbarLogger(log.New(&buf, "", 0), &core.Config{Env: "TEST", TestMode: true})

	usr := user.User{ID: "u1", Username: "jdoe", Email: "jdoe@test.test"}
	logger.Error("grading failed", errors.New("boom"), usr)

	out := buf.String()
	assert.Contains(t, out, "ERROR: grading failed")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "jdoe@test.test", "users identify the person, they are not printed")
}

func TestRollbarLogger_prepare(t *testing.T) {
	logger := RollbarLogger{std: log.New(new(bytes.Buffer), "", 0)}
	extras := map[string]interface{}{"exam_id": "e1"}

	args := logger.prepare("msg", []interface{}{user.User{ID: "u1"}, extras, user.User{ID: "u2"}})
	assert.Equal(t, []interface{}{"msg", extras}, args)
}
