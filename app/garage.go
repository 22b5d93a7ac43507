// Package app holds the demo object graph served by the inspect server.
package app

import (
	"context"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/km-arc/go-inject/framework/inject"
)

// Engine is a leaf dependency.
type Engine struct {
	Cylinders int
	Fuel      string
}

// Car depends on an Engine.
type Car struct {
	Engine *Engine
	Plate  string
}

// Wheels implements Vehicle.
func (c *Car) Wheels() int { return 4 }

// Vehicle is provided by Car.
type Vehicle interface {
	Wheels() int
}

// Garage holds two cars sharing the default engine and a named spare.
type Garage struct {
	Cars   []*Car
	Spare  *Engine
	Logger *zap.Logger
	Opened bool
}

// Init builds the garage from resolved bindings.
func (g *Garage) Init(args inject.Args) error {
	first, ok := inject.Arg[*Car](args, "first")
	if !ok {
		return &inject.ArgumentError{Type: reflect.TypeFor[*Garage](), Arg: "first", Reason: "missing car"}
	}
	second, _ := inject.Arg[*Car](args, "second")
	g.Cars = []*Car{first, second}
	g.Spare, _ = inject.Arg[*Engine](args, "spare")
	g.Logger, _ = inject.Arg[*zap.Logger](args, "logger")
	if g.Logger == nil {
		g.Logger = zap.NewNop()
	}
	return nil
}

// Open is the garage's start hook.
func (g *Garage) Open() error {
	g.Opened = true
	g.Logger.Info("garage open", zap.Int("cars", len(g.Cars)))
	return nil
}

// Close is the garage's close hook.
func (g *Garage) Close() error {
	g.Opened = false
	g.Logger.Info("garage closed")
	return nil
}

// Depot is an async-managed connection that is entered when first resolved
// inside the registry's scope.
type Depot struct {
	DSN     string
	Entered bool
}

// Enter implements inject.AsyncContext.
func (d *Depot) Enter(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Entered = true
	return d, nil
}

// Exit implements inject.AsyncContext.
func (d *Depot) Exit(context.Context) error {
	d.Entered = false
	return nil
}

// dsn formats the depot address.
func dsn(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
