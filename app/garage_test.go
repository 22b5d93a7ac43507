package app_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/km-arc/go-inject/app"
	"github.com/km-arc/go-inject/framework/config"
	"github.com/km-arc/go-inject/framework/inject"
)

func newGarageRegistry(t *testing.T, values map[string]any, logger *zap.Logger) *inject.Registry {
	t.Helper()
	b := inject.NewBinder()
	prov := inject.NewProviderRegistry(b)
	require.NoError(t, prov.Register(&app.GarageServiceProvider{Logger: logger}))
	require.NoError(t, prov.Register(&app.DepotServiceProvider{}))
	reg := inject.New(inject.WithBinder(b), inject.WithConfig(config.New(values)))
	require.NoError(t, prov.Boot(reg))
	return reg
}

func TestGarage_Graph(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := newGarageRegistry(t, nil, zap.New(core))

	g, err := inject.Get[*app.Garage](reg)
	require.NoError(t, err)
	require.Len(t, g.Cars, 2)
	assert.True(t, g.Opened)
	assert.Equal(t, 1, logs.FilterMessage("garage open").Len())

	first, second := g.Cars[0], g.Cars[1]
	assert.NotSame(t, first, second)
	assert.Equal(t, "GO-1", first.Plate)
	assert.Equal(t, "GO-2", second.Plate)
	assert.Same(t, first.Engine, second.Engine, "both cars share the default engine")
	assert.Equal(t, 4, first.Engine.Cylinders)
	assert.Equal(t, "petrol", first.Engine.Fuel)

	assert.Equal(t, 2, g.Spare.Cylinders)
	spare, ok := reg.Lookup("spare")
	require.True(t, ok)
	assert.Same(t, g.Spare, spare)

	v, ok := reg.Lookup(reflect.TypeFor[app.Vehicle]())
	require.True(t, ok)
	assert.Same(t, first, v)

	require.NoError(t, reg.Close())
	assert.False(t, g.Opened)
	assert.Equal(t, 1, logs.FilterMessage("garage closed").Len())
}

func TestGarage_Configured(t *testing.T) {
	t.Setenv("FUEL", "electric")
	reg := newGarageRegistry(t, map[string]any{
		"garage": map[string]any{"engine": map[string]any{"cylinders": 6}},
		"plate":  "CFG-1",
	}, nil)

	car, err := inject.Get[*app.Car](reg)
	require.NoError(t, err)
	assert.Equal(t, "CFG-1", car.Plate)
	assert.Equal(t, 6, car.Engine.Cylinders)
	assert.Equal(t, "electric", car.Engine.Fuel)
}

func TestDepot_AsyncScope(t *testing.T) {
	reg := newGarageRegistry(t, map[string]any{
		"depot": map[string]any{"host": "db", "port": 6432},
	}, nil)
	ctx := context.Background()

	_, err := inject.Get[*app.Depot](reg)
	assert.True(t, inject.IsMisuse(err), "the depot is async-managed")

	require.NoError(t, reg.Enter(ctx))
	d, err := inject.GetAsync[*app.Depot](ctx, reg)
	require.NoError(t, err)
	assert.True(t, d.Entered)
	assert.Equal(t, "db:6432", d.DSN)

	require.NoError(t, reg.Exit(ctx))
	assert.False(t, d.Entered)
}
