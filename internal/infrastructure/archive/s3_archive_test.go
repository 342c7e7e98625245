package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordo/vendor-engine/internal/infrastructure/config"
)

func TestNewS3Store_Validation(t *testing.T) {
	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3Store(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		cfg := &config.ArchiveConfig{
			AccessKey: "test-key",
			SecretKey: "test-secret",
		}
		_, err := NewS3Store(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("missing access key returns error", func(t *testing.T) {
		cfg := &config.ArchiveConfig{
			Bucket:    "invoices",
			SecretKey: "test-secret",
		}
		_, err := NewS3Store(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access key is required")
	})

	t.Run("endpoint without protocol gets one", func(t *testing.T) {
		cfg := &config.ArchiveConfig{
			Bucket:    "invoices",
			AccessKey: "test-key",
			SecretKey: "test-secret",
			Endpoint:  "minio.internal:9000",
		}
		store, err := NewS3Store(cfg)
		require.NoError(t, err)
		assert.NotNil(t, store)
	})
}

func TestObjectKey(t *testing.T) {
	officeID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	vendorID := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	t.Run("is deterministic", func(t *testing.T) {
		first := ObjectKey(officeID, vendorID, "WEB-552")
		second := ObjectKey(officeID, vendorID, "WEB-552")
		assert.Equal(t, first, second)
		assert.Equal(t, "invoices/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222/WEB-552.pdf", first)
	})

	t.Run("sanitizes hostile references", func(t *testing.T) {
		key := ObjectKey(officeID, vendorID, "../../../etc/passwd")
		assert.NotContains(t, key, "..")
		assert.Equal(t, "invoices/11111111-1111-1111-1111-111111111111/22222222-2222-2222-2222-222222222222/_________etc_passwd.pdf", key)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips a PDF", func(t *testing.T) {
		store := NewMemoryStore()
		officeID := uuid.New()
		vendorID := uuid.New()

		key, err := store.Put(ctx, officeID, vendorID, "WEB-552", []byte("%PDF-1.7"))
		require.NoError(t, err)

		pdf, found := store.Object(key)
		require.True(t, found)
		assert.Equal(t, []byte("%PDF-1.7"), pdf)

		link, err := store.PresignedLink(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Contains(t, link, key)
	})

	t.Run("rejects empty PDF", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.Put(ctx, uuid.New(), uuid.New(), "WEB-1", nil)
		assert.Error(t, err)
	})

	t.Run("link for unknown key fails", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.PresignedLink(ctx, "invoices/nope.pdf", time.Minute)
		assert.Error(t, err)
	})
}
