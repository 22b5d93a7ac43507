package http_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	fhttp "github.com/km-arc/go-inject/framework/http"
	"github.com/km-arc/go-inject/routing"
)

func newRequest(method, target, body, contentType string) *fhttp.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return fhttp.NewRequest(r)
}

func TestRequest_BindJSON(t *testing.T) {
	req := newRequest(http.MethodPost, "/", `{"type":"a.B"}`, "application/json")
	var body fhttp.ResolveRequest
	if err := req.Bind(&body); err != nil {
		t.Fatal(err)
	}
	if body.Type != "a.B" {
		t.Errorf("Type: got %q want a.B", body.Type)
	}
}

func TestRequest_BindErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		ct   string
	}{
		{"empty body", "", "application/json"},
		{"form content type", "type=a.B", "application/x-www-form-urlencoded"},
		{"unknown field", `{"other":1}`, "application/json"},
		{"malformed", `{"type":`, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body fhttp.ResolveRequest
			if err := newRequest(http.MethodPost, "/", tt.body, tt.ct).Bind(&body); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRequest_Query(t *testing.T) {
	req := newRequest(http.MethodGet, "/registry?state=started&async=true&junk=x", "", "")

	if got := req.Query("state"); got != "started" {
		t.Errorf("Query(state): got %q", got)
	}
	if got := req.Query("type", "any"); got != "any" {
		t.Errorf("Query fallback: got %q", got)
	}
	if !req.Bool("async") {
		t.Error("Bool(async) should be true")
	}
	if req.Bool("junk") || req.Bool("missing") {
		t.Error("malformed or missing flags are false")
	}
	if !req.Has("state") || req.Has("type") {
		t.Error("Has mismatch")
	}
}

func TestRequest_Accessors(t *testing.T) {
	req := newRequest(http.MethodPost, "/registry/resolve", `{}`, "application/json")
	req.Raw().Header.Set("X-Request-Id", "abc")

	if req.Method() != http.MethodPost {
		t.Errorf("Method: got %q", req.Method())
	}
	if req.Path() != "/registry/resolve" {
		t.Errorf("Path: got %q", req.Path())
	}
	if req.Header("X-Request-Id") != "abc" {
		t.Errorf("Header: got %q", req.Header("X-Request-Id"))
	}
	if req.ContentType() != "application/json" {
		t.Errorf("ContentType: got %q", req.ContentType())
	}
}

func TestRequest_RouteParam(t *testing.T) {
	r := routing.New(nil)
	var got string
	r.Get("/names/{name}", func(w http.ResponseWriter, req *http.Request) {
		got = fhttp.NewRequest(req).RouteParam("name")
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/names/spare", nil))
	if got != "spare" {
		t.Errorf("RouteParam: got %q want spare", got)
	}
}
