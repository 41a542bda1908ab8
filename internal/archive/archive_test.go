package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/brand-monitor/internal/storage/memory"
)

func TestDigestKnownValue(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Digest(nil))
}

func TestSavePayloadWritesUnderScanAndJob(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	a := New(blobs, "/serp/")
	payload := []byte(`{"status_code":20000}`)

	uri, err := a.SavePayload(context.Background(), "scan-1", "job-1", payload)
	require.NoError(t, err)

	path := "serp/scan-1/job-1-" + Digest(payload) + ".json"
	require.Equal(t, "memory://"+path, uri)
	data, ct, ok := blobs.Object(path)
	require.True(t, ok)
	require.Equal(t, payload, data)
	require.Equal(t, "application/json", ct)
}

func TestSavePayloadRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := New(memory.NewBlobStore(), "").SavePayload(context.Background(), "s", "j", nil)
	require.Error(t, err)
}

func TestPathWithoutPrefix(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s/j-abc.json", New(nil, "").Path("s", "j", "abc"))
}
