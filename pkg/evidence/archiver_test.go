package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

func TestFileArchiverRoundTrip(t *testing.T) {
	a, err := NewFileArchiver(t.TempDir())
	require.NoError(t, err)

	payload := map[string]any{"item_id": "CI-1", "decision": "CERTIFY", "by": "mgr-1"}
	ref, err := a.Archive(context.Background(), payload)
	require.NoError(t, err)
	require.Regexp(t, `^sha256:[0-9a-f]{64}$`, ref)

	data, err := a.Fetch(context.Background(), ref)
	require.NoError(t, err)
	require.JSONEq(t, `{"by":"mgr-1","decision":"CERTIFY","item_id":"CI-1"}`, string(data))
}

func TestArchiveIsContentAddressed(t *testing.T) {
	a, err := NewFileArchiver(t.TempDir())
	require.NoError(t, err)

	// Key order must not change the ref: payloads are canonicalized.
	ref1, err := a.Archive(context.Background(), map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	ref2, err := a.Archive(context.Background(), map[string]any{"b": "x", "a": 1})
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)

	ref3, err := a.Archive(context.Background(), map[string]any{"a": 2, "b": "x"})
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref3)
}

func TestFetchUnknownRef(t *testing.T) {
	a, err := NewFileArchiver(t.TempDir())
	require.NoError(t, err)

	_, err = a.Fetch(context.Background(), "sha256:"+"00"+"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b8")
	require.True(t, faults.IsKind(err, faults.NotFound))

	_, err = a.Fetch(context.Background(), "md5:abc")
	require.True(t, faults.IsKind(err, faults.Validation))
}
