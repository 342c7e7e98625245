package vendors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordo/vendor-engine/internal/domain/vendor"
	"github.com/ordo/vendor-engine/internal/infrastructure/vendors/dentaldirect"
)

func TestStaticRegistry(t *testing.T) {
	newDental := func(t *testing.T) vendor.Adapter {
		t.Helper()
		a, err := dentaldirect.NewAdapter(dentaldirect.NewConfig("https://shop.test"), nil)
		require.NoError(t, err)
		return a
	}

	t.Run("resolves a registered slug", func(t *testing.T) {
		reg, err := NewStaticRegistry(newDental(t))
		require.NoError(t, err)

		a, err := reg.Get(vendor.SlugDentalDirect)
		require.NoError(t, err)
		assert.Equal(t, vendor.SlugDentalDirect, a.Slug())
		assert.Len(t, reg.List(), 1)
	})

	t.Run("unknown slug maps to the sentinel", func(t *testing.T) {
		reg, err := NewStaticRegistry()
		require.NoError(t, err)

		_, err = reg.Get("acme_dental")
		assert.ErrorIs(t, err, vendor.ErrAdapterNotRegistered)
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		_, err := NewStaticRegistry(newDental(t), newDental(t))
		assert.Error(t, err)
	})
}
