package inject_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/km-arc/go-inject/framework/inject"
)

// ── shared fixtures ───────────────────────────────────────────────────────────

var errBoom = errors.New("boom")

type Engine struct {
	Cylinders int
}

type Car struct {
	Engine *Engine
}

// Vehicle is only ever satisfied by constructed objects, never built itself.
type Vehicle interface {
	Wheels() int
}

type Truck struct {
	Axles int
}

func (t *Truck) Wheels() int { return t.Axles * 2 }

type Base struct {
	Name string
}

type Derived struct {
	Base
	Extra int
}

type Holder struct {
	Data map[string]int
}

// Flaky fails on its first construction attempt only.
type Flaky struct {
	Calls int
}

func (f *Flaky) Init(args inject.Args) error {
	calls, _ := inject.Arg[*int](args, "calls")
	*calls++
	f.Calls = *calls
	if *calls == 1 {
		return errBoom
	}
	return nil
}

type Panicky struct{}

func (p *Panicky) Init(inject.Args) error { panic("constructor exploded") }

type Counted struct{}

func (c *Counted) Init(args inject.Args) error {
	n, _ := inject.Arg[*atomic.Int32](args, "n")
	n.Add(1)
	time.Sleep(5 * time.Millisecond)
	return nil
}

// Left and Right reference each other.
type Left struct {
	Right *Right
	Name  string
}

type Right struct {
	Left     *Left
	SeenName string
}

func (r *Right) Init(args inject.Args) error {
	r.Left, _ = inject.Arg[*Left](args, "left")
	r.SeenName = r.Left.Name
	return nil
}

type Service struct {
	Reg inject.Resolver
}

// Eager resolves another object from inside its own constructor.
type Eager struct {
	Engine *Engine
}

func (e *Eager) Init(args inject.Args) error {
	r, _ := inject.Arg[inject.Resolver](args, "reg")
	engine, err := inject.Get[*Engine](r)
	if err != nil {
		return err
	}
	e.Engine = engine
	return nil
}

type Greeter struct {
	Prefix string
}

func (g *Greeter) Greet(name string) string { return g.Prefix + name }

type Greeting struct {
	Text string
}

type Strict struct {
	Host string `inject:"host"`
	Port int64  `inject:"port,optional"`
	Skip string `inject:"-"`
}

// Conn and Pool are async-managed; Enter and Exit are recorded in Log.
type Conn struct {
	Log  *[]string
	Name string
}

func (c *Conn) Enter(context.Context) (any, error) {
	*c.Log = append(*c.Log, "enter "+c.Name)
	return c, nil
}

func (c *Conn) Exit(context.Context) error {
	*c.Log = append(*c.Log, "exit "+c.Name)
	return nil
}

type Pool struct {
	Conn   *Conn
	Engine *Engine
	DSN    string
	Log    *[]string
}

func (p *Pool) Enter(context.Context) (any, error) {
	*p.Log = append(*p.Log, "enter pool")
	return p, nil
}

func (p *Pool) Exit(context.Context) error {
	*p.Log = append(*p.Log, "exit pool")
	return nil
}

// BadConn breaks the Enter contract by returning a different object.
type BadConn struct {
	Log *[]string
}

func (c *BadConn) Enter(context.Context) (any, error) { return &BadConn{Log: c.Log}, nil }

func (c *BadConn) Exit(context.Context) error {
	*c.Log = append(*c.Log, "exit bad")
	return nil
}

// carBinder declares the Engine/Car pair on a fresh binder.
func carBinder(opts ...inject.BindOption) *inject.Binder {
	b := inject.NewBinder()
	inject.BindIn[*Engine](b, append([]inject.BindOption{inject.With("cylinders", 4)}, opts...)...)
	inject.BindIn[*Car](b, inject.With("engine", inject.Ref[*Engine]()))
	return b
}
