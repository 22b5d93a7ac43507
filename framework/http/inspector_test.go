package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/km-arc/go-inject/framework/config"
	fhttp "github.com/km-arc/go-inject/framework/http"
	"github.com/km-arc/go-inject/framework/inject"
	"github.com/km-arc/go-inject/routing"
)

type Engine struct {
	Cylinders int
}

type Car struct {
	Engine *Engine
}

type Loop struct {
	Next *Loop
}

func newServer(t *testing.T) (*inject.Registry, http.Handler) {
	t.Helper()
	b := inject.NewBinder()
	inject.BindIn[*Engine](b, inject.With("cylinders", 4), inject.Named("main"))
	inject.BindIn[*Car](b, inject.With("engine", inject.Ref[*Engine]()))
	inject.BindIn[*Loop](b, inject.With("next", inject.Ref[*Loop]()))
	reg := inject.New(inject.WithBinder(b), inject.WithConfig(config.Empty()))

	r := routing.New(nil)
	fhttp.NewInspector(reg, nil).Routes(r)
	return reg, r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var m map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	}
	return rr, m
}

func TestInspector_Health(t *testing.T) {
	reg, h := newServer(t)
	rr, m := do(t, h, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rr.Code)
	data := m["data"].(map[string]any)
	assert.Equal(t, reg.ID(), data["registry"])
	assert.Equal(t, float64(0), data["objects"])
}

func TestInspector_List(t *testing.T) {
	reg, h := newServer(t)
	_, err := inject.Get[*Car](reg)
	require.NoError(t, err)

	rr, m := do(t, h, http.MethodGet, "/registry", "")
	require.Equal(t, http.StatusOK, rr.Code)
	entries := m["data"].([]any)
	require.Len(t, entries, 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "*http_test.Engine", first["type"])
	assert.Equal(t, "main", first["name"])
	assert.Equal(t, "started", first["state"])

	_, m = do(t, h, http.MethodGet, "/registry?type=Car", "")
	assert.Len(t, m["data"], 1)

	_, m = do(t, h, http.MethodGet, "/registry?state=closed", "")
	assert.Empty(t, m["data"])

	_, m = do(t, h, http.MethodGet, "/registry?async=true", "")
	assert.Empty(t, m["data"])
}

func TestInspector_ListValidation(t *testing.T) {
	_, h := newServer(t)
	rr, m := do(t, h, http.MethodGet, "/registry?state=bogus&async=maybe", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	bag := m["errors"].(map[string]any)
	assert.Contains(t, bag, "state")
	assert.Contains(t, bag, "async")
}

func TestInspector_Named(t *testing.T) {
	reg, h := newServer(t)
	_, err := inject.Get[*Engine](reg)
	require.NoError(t, err)

	rr, m := do(t, h, http.MethodGet, "/registry/names/main", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "main", m["data"].(map[string]any)["name"])

	rr, m = do(t, h, http.MethodGet, "/registry/names/absent", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, m["message"], "absent")
}

func TestInspector_Types(t *testing.T) {
	_, h := newServer(t)
	rr, m := do(t, h, http.MethodGet, "/registry/types", "")

	require.Equal(t, http.StatusOK, rr.Code)
	types := m["data"].([]any)
	require.Len(t, types, 3)
	keys := map[string]string{}
	for _, ti := range types {
		info := ti.(map[string]any)
		keys[info["key"].(string)] = info["metadata"].(string)
	}
	assert.Equal(t, `"main" *http_test.Engine(cylinders=4)`,
		keys[inject.TypeKey(reflect.TypeFor[*Engine]())])
}

func TestInspector_ResolveByType(t *testing.T) {
	reg, h := newServer(t)
	body := `{"type": "` + inject.TypeKey(reflect.TypeFor[*Car]()) + `"}`

	rr, m := do(t, h, http.MethodPost, "/registry/resolve", body)
	require.Equal(t, http.StatusOK, rr.Code, m)
	assert.Equal(t, "*http_test.Car", m["data"].(map[string]any)["type"])
	assert.Equal(t, 2, reg.Len(), "the car and its engine were constructed")
}

func TestInspector_ResolveByName(t *testing.T) {
	reg, h := newServer(t)
	reg.Register(&Engine{Cylinders: 2}, "spare")

	rr, m := do(t, h, http.MethodPost, "/registry/resolve", `{"name": "spare"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "&{Cylinders:2}", m["data"].(map[string]any)["value"])

	rr, _ = do(t, h, http.MethodPost, "/registry/resolve", `{"name": "absent"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInspector_ResolveErrors(t *testing.T) {
	_, h := newServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"undeclared type", `{"type": "example.com/none.Thing"}`, http.StatusNotFound},
		{"cycle", `{"type": "` + inject.TypeKey(reflect.TypeFor[*Loop]()) + `"}`, http.StatusConflict},
		{"neither field", `{}`, http.StatusUnprocessableEntity},
		{"malformed type", `{"type": "a b"}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"kind": "x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := do(t, h, http.MethodPost, "/registry/resolve", tt.body)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestInspector_ConstructedByRegistry(t *testing.T) {
	b := inject.NewBinder()
	inject.BindIn[*fhttp.Inspector](b, inject.With("registry", inject.Self()))
	reg := inject.New(inject.WithBinder(b))

	insp, err := inject.Get[*fhttp.Inspector](reg)
	require.NoError(t, err)

	r := routing.New(nil)
	insp.Routes(r)
	rr, m := do(t, r, http.MethodGet, "/registry", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, m["data"], 1, "the inspector lists itself")
}

func TestInspector_InitRequiresResolver(t *testing.T) {
	b := inject.NewBinder()
	inject.BindIn[*fhttp.Inspector](b)
	reg := inject.New(inject.WithBinder(b))

	_, err := inject.Get[*fhttp.Inspector](reg)
	assert.ErrorIs(t, err, inject.ErrArgument)
}
