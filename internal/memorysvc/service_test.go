package memorysvc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coopforge/sergeant/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "sergeant.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewService(st)
}

func TestSaveReadDeleteRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "project-x", "plan", "build the thing"))

	v, err := svc.Read(ctx, "project-x", "plan")
	require.NoError(t, err)
	require.Equal(t, "build the thing", v)

	entry, err := svc.Entry(ctx, "project-x", "plan")
	require.NoError(t, err)
	require.Equal(t, 1, entry.AccessCount)

	require.NoError(t, svc.Delete(ctx, "project-x", "plan"))
	_, err = svc.Read(ctx, "project-x", "plan")
	require.Error(t, err)
}

func TestReadMissingKeyFails(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Read(context.Background(), "project-x", "missing")
	require.Error(t, err)
}

func TestSaveOverwritesValue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, "ns", "k", "v1"))
	require.NoError(t, svc.Save(ctx, "ns", "k", "v2"))

	v, err := svc.Read(ctx, "ns", "k")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
}
