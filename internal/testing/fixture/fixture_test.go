package fixture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeedLookupItemsCarryBaseUOM(t *testing.T) {
	lookup := SeedLookup()
	for _, id := range []int64{ItemBolt, ItemScanner, ItemWidget} {
		it, err := lookup.GetItem(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, it.BaseUOMID)
		require.Equal(t, UOMPcs, *it.BaseUOMID)
	}
}
