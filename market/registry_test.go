package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPairValidation(t *testing.T) {
	r := NewRegistry()
	r.AddCurrency(Currency{Code: "BTC", Active: true})
	r.AddCurrency(Currency{Code: "USDT", Active: true})

	err := r.AddPair(Pair{Base: "BTC", Quote: "BTC"})
	require.Error(t, err)

	err = r.AddPair(Pair{Base: "DOGE", Quote: "USDT"})
	require.Error(t, err, "unknown base currency")

	require.NoError(t, r.AddPair(Pair{Base: "BTC", Quote: "USDT", Type: TypeSpot, Status: StatusActive}))
	p, ok := r.Pair("BTC/USDT")
	require.True(t, ok, "symbol derived from base/quote")
	assert.Equal(t, "BTC", p.Base)
}

func TestTradableGating(t *testing.T) {
	assert.True(t, Pair{Type: TypeSpot, Status: StatusActive}.Tradable())
	assert.False(t, Pair{Type: TypeFutures, Status: StatusActive}.Tradable())
	assert.False(t, Pair{Type: TypeSpot, Status: StatusMaintenance}.Tradable())
	assert.False(t, Pair{Type: TypeSpot, Status: StatusInactive}.Tradable())
}

func TestSeedDefaults(t *testing.T) {
	r := NewRegistry()
	r.SeedDefaults()

	all := r.AllPairs()
	active := r.ActivePairs()
	assert.Len(t, all, 4)
	assert.Len(t, active, 3, "the perp is listed but not tradable")

	perp, ok := r.Pair("BTC/USDT-PERP")
	require.True(t, ok)
	assert.Equal(t, TypeFutures, perp.Type)
	assert.False(t, perp.Tradable())

	codes := r.CurrencyCodes()
	assert.ElementsMatch(t, []string{"BTC", "ETH", "SOL", "USDT"}, codes)
}
