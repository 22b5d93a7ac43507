package routing_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/km-arc/go-inject/framework/inject"
	"github.com/km-arc/go-inject/routing"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func do(t *testing.T, router http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

// ── HTTP verbs ────────────────────────────────────────────────────────────────

func TestRouter_Verbs(t *testing.T) {
	r := routing.New(nil)
	r.Get("/entries", okHandler)
	r.Post("/entries", okHandler)
	r.Delete("/entries/{id}", okHandler)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/entries"},
		{http.MethodPost, "/entries"},
		{http.MethodDelete, "/entries/1"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path)
			if rr.Code != http.StatusOK {
				t.Errorf("got %d want 200", rr.Code)
			}
		})
	}
}

func TestRouter_Handle(t *testing.T) {
	r := routing.New(nil)
	r.Handle("/metrics", http.HandlerFunc(okHandler))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := do(t, r, method, "/metrics")
		if rr.Code != http.StatusOK {
			t.Errorf("%s /metrics: got %d want 200", method, rr.Code)
		}
	}
}

// ── 404 for unregistered routes ──────────────────────────────────────────────

func TestRouter_NotFound(t *testing.T) {
	r := routing.New(nil)
	rr := do(t, r, http.MethodGet, "/not-registered")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

// ── Route params ─────────────────────────────────────────────────────────────

func TestRouter_Param(t *testing.T) {
	r := routing.New(nil)
	r.Get("/names/{name}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(routing.Param(req, "name")))
	})

	rr := do(t, r, http.MethodGet, "/names/main")
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d want 200", rr.Code)
	}
	if rr.Body.String() != "main" {
		t.Errorf("got body %q want %q", rr.Body.String(), "main")
	}
}

// ── Prefix / Group ───────────────────────────────────────────────────────────

func TestRouter_Prefix(t *testing.T) {
	r := routing.New(nil)
	r.Prefix("/registry", func(api *routing.Router) {
		api.Get("/types", okHandler)
	})

	if rr := do(t, r, http.MethodGet, "/registry/types"); rr.Code != http.StatusOK {
		t.Errorf("GET /registry/types: got %d want 200", rr.Code)
	}
	if rr := do(t, r, http.MethodGet, "/types"); rr.Code != http.StatusNotFound {
		t.Errorf("GET /types: expected 404, got %d", rr.Code)
	}
}

func TestRouter_Group_Middleware(t *testing.T) {
	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}

	r := routing.New(nil)
	r.Group(func(g *routing.Router) {
		g.Middleware(mw)
		g.Get("/protected", okHandler)
	})

	do(t, r, http.MethodGet, "/protected")
	if !called {
		t.Error("expected middleware to be called")
	}
}

// ── Logging & recovery ───────────────────────────────────────────────────────

func TestRouter_LogsRequests(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := routing.New(zap.New(core))
	r.Get("/ping", okHandler)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	do(t, r, http.MethodGet, "/ping")
	rr := do(t, r, http.MethodGet, "/boom")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("panic: got %d want 500", rr.Code)
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 2 {
		t.Fatalf("request log lines: got %d want 2", len(entries))
	}
	if got := entries[0].ContextMap()["path"]; got != "/ping" {
		t.Errorf("path field: got %v", got)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("5xx level: got %v want warn", entries[1].Level)
	}
}

// ── Registry construction ────────────────────────────────────────────────────

func TestRouter_ConstructedByRegistry(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := inject.NewBinder()
	inject.BindIn[*routing.Router](b, inject.With("logger", zap.New(core)))
	reg := inject.New(inject.WithBinder(b))

	r, err := inject.Get[*routing.Router](reg)
	if err != nil {
		t.Fatal(err)
	}
	r.Get("/ping", okHandler)
	if rr := do(t, r.Handler(), http.MethodGet, "/ping"); rr.Code != http.StatusOK {
		t.Errorf("got %d want 200", rr.Code)
	}
	if logs.FilterMessage("request").Len() != 1 {
		t.Error("the bound logger should receive request logs")
	}
}
