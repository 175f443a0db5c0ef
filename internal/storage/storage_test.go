package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	sub := uuid.New()
	key := ReportKey(sub, "submission_1_appropriations_error_report.csv")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("a,b\n"), -1))

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "a,b\n", string(data))

	require.NoError(t, store.DeletePrefix(ctx, SubmissionPrefix(sub)))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalKeysStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	p, err := store.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, root))

	_, err = store.path("/")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	sub := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	job := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	assert.Equal(t, "submissions/00000000-0000-0000-0000-000000000001/", SubmissionPrefix(sub))
	assert.Equal(t,
		"submissions/00000000-0000-0000-0000-000000000001/uploads/00000000-0000-0000-0000-000000000002_a.csv",
		UploadKey(sub, job, "/tmp/x/a.csv"),
	)
}
