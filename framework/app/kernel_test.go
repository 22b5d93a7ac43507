package app_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	demo "github.com/km-arc/go-inject/app"
	"github.com/km-arc/go-inject/framework/app"
	"github.com/km-arc/go-inject/framework/inject"
)

type Engine struct {
	Cylinders int
	closed    bool
}

type engineProvider struct {
	inject.BaseProvider
}

func (p *engineProvider) Register(b *inject.Binder) error {
	_, err := b.Declare(reflect.TypeFor[*Engine](),
		inject.With("cylinders", 4),
		inject.OnClose(func(e *Engine) error {
			e.closed = true
			return nil
		}),
	)
	return err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestApplication_BootAutostarts(t *testing.T) {
	key := inject.TypeKey(reflect.TypeFor[*Engine]())
	path := writeConfig(t, "registry:\n  by_class:\n    Engine:\n      cylinders: 8\n  autostart:\n    - "+key+"\n")

	a, err := app.New(app.Options{ConfigFile: path})
	require.NoError(t, err)
	require.NoError(t, a.Register(&engineProvider{}))
	require.NoError(t, a.Boot())
	require.NoError(t, a.Boot(), "boot twice is a no-op")

	engine, ok := a.Registry.Lookup(reflect.TypeFor[*Engine]())
	require.True(t, ok, "autostart constructed the engine")
	assert.Equal(t, 8, engine.(*Engine).Cylinders, "config overrides the binding")

	require.NoError(t, a.Shutdown(context.Background()))
	assert.True(t, engine.(*Engine).closed)
}

func TestApplication_MissingConfigFile(t *testing.T) {
	_, err := app.New(app.Options{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
}

// keptSpans ignores Shutdown so spans flushed by the tracer provider stay
// readable; the in-memory exporter resets itself on Shutdown.
type keptSpans struct {
	*tracetest.InMemoryExporter
}

func (keptSpans) Shutdown(context.Context) error { return nil }

// served runs a.Serve on a loopback listener. The returned stop function
// cancels it and waits for Serve to return.
func served(t *testing.T, a *app.Application) (base string, stop func() error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, l) }()

	return "http://" + l.Addr().String(), func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return after cancel")
			return nil
		}
	}
}

func fetch(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var resp *http.Response
	require.Eventually(t, func() bool {
		req, err := http.NewRequest(method, url, strings.NewReader(body))
		if err != nil {
			return false
		}
		resp, err = http.DefaultClient.Do(req)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestApplication_Serve(t *testing.T) {
	exporter := keptSpans{tracetest.NewInMemoryExporter()}
	a, err := app.New(app.Options{SpanExporter: exporter})
	require.NoError(t, err)
	require.NoError(t, a.Register(&engineProvider{}))
	base, stop := served(t, a)

	status, body := fetch(t, http.MethodGet, base+"/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, a.Registry.ID())

	status, body = fetch(t, http.MethodGet, base+"/registry", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "*routing.Router")
	assert.Contains(t, body, "*http.Inspector")

	status, body = fetch(t, http.MethodGet, base+"/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, strings.Contains(body, `inject_registry_events_total{kind="constructed"`))

	require.NoError(t, stop())
	assert.NotEmpty(t, exporter.GetSpans(), "lifecycle spans are flushed on shutdown")
}

func TestApplication_ServeResolvesAsyncObjects(t *testing.T) {
	a, err := app.New(app.Options{})
	require.NoError(t, err)
	require.NoError(t, a.Register(&demo.DepotServiceProvider{}))
	base, stop := served(t, a)

	key := inject.TypeKey(reflect.TypeFor[*demo.Depot]())
	status, body := fetch(t, http.MethodPost, base+"/registry/resolve", `{"type": "`+key+`"}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "Entered:true")
	assert.Contains(t, body, "localhost:5432")
	assert.True(t, a.Registry.Entered())

	require.NoError(t, stop())
	assert.False(t, a.Registry.Entered())
	var depot *inject.EntryInfo
	for _, info := range a.Registry.Snapshot() {
		if info.Type == "*app.Depot" {
			depot = &info
		}
	}
	require.NotNil(t, depot, "the depot stays in the snapshot")
	assert.True(t, depot.Async)
	assert.Equal(t, "closed", depot.State, "the depot was exited on shutdown")
}
