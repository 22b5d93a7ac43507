package app

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/km-arc/go-inject/framework/inject"
)

// GarageServiceProvider declares the demo object graph.
//
// Configuration:
//   - garage.engine.cylinders  engine size, default 4
//   - FUEL                     config key or environment variable, default "petrol"
//   - plate                    plate of the first car, default "GO-1"
type GarageServiceProvider struct {
	inject.BaseProvider
	Logger *zap.Logger
}

func (p *GarageServiceProvider) Register(b *inject.Binder) error {
	if _, err := b.Declare(reflect.TypeFor[*Engine](),
		inject.With("cylinders", inject.NestedConfig("garage.engine.cylinders", inject.Default(4))),
		inject.With("fuel", inject.Config("FUEL", inject.FallbackToEnv(), inject.Default("petrol"))),
	); err != nil {
		return err
	}
	if _, err := b.Declare(reflect.TypeFor[*Car](),
		inject.With("engine", inject.Ref[*Engine]()),
		inject.With("plate", inject.Config("plate", inject.Default("GO-1"))),
		inject.Provides(reflect.TypeFor[Vehicle]()),
	); err != nil {
		return err
	}
	_, err := b.Declare(reflect.TypeFor[*Garage](),
		inject.With("first", inject.Ref[*Car]()),
		inject.With("second", inject.RefIn[*Car](b, inject.With("engine", inject.Ref[*Engine]()), inject.With("plate", "GO-2"))),
		inject.With("spare", inject.RefIn[*Engine](b, inject.With("cylinders", 2), inject.With("fuel", "diesel"), inject.Named("spare"))),
		inject.With("logger", p.Logger),
		inject.OnStart((*Garage).Open),
		inject.OnClose((*Garage).Close),
	)
	return err
}

// Boot logs the garage once every provider is registered.
func (p *GarageServiceProvider) Boot(r inject.Resolver) error {
	g, err := inject.Get[*Garage](r)
	if err != nil {
		return err
	}
	if p.Logger != nil {
		p.Logger.Debug("garage ready", zap.Int("spare_cylinders", g.Spare.Cylinders))
	}
	return nil
}

// DepotServiceProvider lazily declares the async-managed Depot the first time
// it is looked up.
//
// Configuration:
//   - depot.host  default "localhost"
//   - depot.port  default 5432
type DepotServiceProvider struct {
	inject.BaseProvider
}

func (p *DepotServiceProvider) Register(b *inject.Binder) error {
	_, err := b.Declare(reflect.TypeFor[*Depot](),
		inject.AsyncManaged(),
		inject.With("dsn", inject.Call(dsn,
			inject.NestedConfig("depot.host", inject.Default("localhost")),
			inject.NestedConfig("depot.port", inject.Default(5432)),
		)),
	)
	return err
}

func (p *DepotServiceProvider) IsDeferred() bool { return true }

func (p *DepotServiceProvider) Provides() []reflect.Type {
	return []reflect.Type{reflect.TypeFor[*Depot]()}
}
