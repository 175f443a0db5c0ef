package submission

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fedspend/broker/internal/models"
	sub "github.com/fedspend/broker/internal/submission"
	"github.com/fedspend/broker/pkg/env"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BROKER_DATABASE_TYPE", "sqlite")
	t.Setenv("BROKER_DATABASE_DSN", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	t.Setenv("BROKER_STORAGE_ROOT", t.TempDir())
	require.NoError(t, env.Process())

	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&out)
	Cmd.SetArgs(args)
	err := Cmd.Execute()
	return out.String(), err
}

func TestCreatePrintsSubmission(t *testing.T) {
	t.Cleanup(func() { createReq = sub.CreateRequest{} })

	out, err := run(t, "create", "--cgac", "012", "--fiscal-year", "2024", "--fiscal-period", "6", "--test")
	require.NoError(t, err)

	var s models.Submission
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, "012", s.CGACCode)
	assert.True(t, s.TestSubmission)
	assert.Equal(t, models.PublishStatusUnpublished, s.PublishStatus)
}

func TestJobsRejectsUnknownSubmission(t *testing.T) {
	_, err := run(t, "jobs", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestParseID(t *testing.T) {
	_, err := parseID("nope")
	assert.Error(t, err)
}
