package http

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/km-arc/go-inject/framework/http/validation"
	"github.com/km-arc/go-inject/framework/inject"
	gohttp "github.com/km-arc/go-inject/http"
	"github.com/km-arc/go-inject/routing"
)

// Inspector serves a read-mostly JSON view of a registry.
//
//	GET  /registry               objects in construction order
//	GET  /registry/names/{name}  one named object
//	GET  /registry/types         declared types and their metadata
//	POST /registry/resolve       resolve a declared type or a name
//	GET  /healthz                liveness
type Inspector struct {
	reg    *inject.Registry
	logger *zap.Logger
}

// NewInspector returns an Inspector over reg.
func NewInspector(reg *inject.Registry, logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{reg: reg, logger: logger}
}

// Init builds the Inspector from its "registry" and "logger" bindings, so it
// can be declared with inject.Self().
func (i *Inspector) Init(args inject.Args) error {
	r, ok := inject.Arg[inject.Resolver](args, "registry")
	if !ok {
		return &inject.ArgumentError{Type: reflect.TypeFor[*Inspector](), Arg: "registry", Reason: "missing resolver"}
	}
	logger, _ := inject.Arg[*zap.Logger](args, "logger")
	*i = *NewInspector(r.Registry(), logger)
	return nil
}

// Routes mounts the inspection endpoints on r.
func (i *Inspector) Routes(r *routing.Router) {
	r.Get("/healthz", i.health)
	r.Prefix("/registry", func(api *routing.Router) {
		api.Get("/", i.list)
		api.Get("/names/{name}", i.named)
		api.Get("/types", i.types)
		api.Post("/resolve", i.resolve)
	})
}

func (i *Inspector) health(w http.ResponseWriter, _ *http.Request) {
	gohttp.NewResponse(w).Success(map[string]any{
		"registry": i.reg.ID(),
		"objects":  i.reg.Len(),
		"entered":  i.reg.Entered(),
	})
}

var listRules = validation.Rules{
	"state": "sometimes|in:constructing,constructed,starting,started,closed",
	"type":  "sometimes|max:256",
	"async": "sometimes|boolean",
}

var resolveRules = validation.Rules{
	"type": "required_without:name|sometimes|max:512|regex:^[A-Za-z0-9_./-]+$",
	"name": "sometimes|max:256",
}

// list supports ?state=, ?type= (substring match) and ?async=true filters.
func (i *Inspector) list(w http.ResponseWriter, r *http.Request) {
	req := NewRequest(r)
	state := req.Query("state")
	typ := req.Query("type")
	v := validation.Make(map[string]string{
		"state": state,
		"type":  typ,
		"async": req.Query("async"),
	}, listRules)
	if v.Fails() {
		gohttp.NewResponse(w).ValidationError(v.Errors())
		return
	}
	asyncOnly := req.Bool("async")

	out := []inject.EntryInfo{}
	for _, e := range i.reg.Snapshot() {
		if state != "" && e.State != state {
			continue
		}
		if typ != "" && !strings.Contains(e.Type, typ) {
			continue
		}
		if asyncOnly && !e.Async {
			continue
		}
		out = append(out, e)
	}
	gohttp.NewResponse(w).Success(out)
}

func (i *Inspector) named(w http.ResponseWriter, r *http.Request) {
	name := NewRequest(r).RouteParam("name")
	for _, e := range i.reg.Snapshot() {
		if e.Name == name {
			gohttp.NewResponse(w).Success(e)
			return
		}
	}
	gohttp.NewResponse(w).NotFound(fmt.Sprintf("no object named %q", name))
}

// TypeInfo describes one declared type.
type TypeInfo struct {
	Type     string `json:"type"`
	Key      string `json:"key"`
	Metadata string `json:"metadata,omitempty"`
	Async    bool   `json:"async,omitempty"`
}

func (i *Inspector) types(w http.ResponseWriter, _ *http.Request) {
	b := i.reg.Binder()
	out := []TypeInfo{}
	for _, t := range b.Types() {
		info := TypeInfo{Type: t.String(), Key: inject.TypeKey(t)}
		if m := b.Own(t); m != nil {
			info.Metadata = m.String()
			info.Async = m.IsAsync()
		}
		out = append(out, info)
	}
	gohttp.NewResponse(w).Success(out)
}

// ResolveRequest names what to resolve: a declared type by its qualified key,
// or an existing object by name.
type ResolveRequest struct {
	Type string `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
}

func (i *Inspector) resolve(w http.ResponseWriter, r *http.Request) {
	res := gohttp.NewResponse(w)
	var body ResolveRequest
	if err := NewRequest(r).Bind(&body); err != nil {
		res.Error(http.StatusBadRequest, err.Error())
		return
	}
	if v := validation.Make(map[string]string{"type": body.Type, "name": body.Name}, resolveRules); v.Fails() {
		res.ValidationError(v.Errors())
		return
	}

	var (
		obj any
		err error
	)
	switch {
	case body.Type != "":
		obj, err = i.resolveType(r, body.Type)
	case body.Name != "":
		var ok bool
		if obj, ok = i.reg.Lookup(body.Name); !ok {
			err = &inject.KeyError{Key: body.Name, Reason: "no object with this name"}
		}
	}
	if err != nil {
		i.logger.Debug("inspector resolve failed", zap.Any("request", body), zap.Error(err))
		res.Problem(err)
		return
	}
	res.Success(map[string]any{
		"type":  fmt.Sprintf("%T", obj),
		"value": fmt.Sprintf("%+v", obj),
	})
}

func (i *Inspector) resolveType(r *http.Request, key string) (any, error) {
	b := i.reg.Binder()
	t, ok := b.TypeByName(key)
	if !ok {
		return nil, &inject.KeyError{Key: key, Reason: "type is not declared"}
	}
	if m := b.Own(t); m != nil && m.IsAsync() {
		return i.reg.ResolveAsync(r.Context(), t)
	}
	return i.reg.Resolve(t)
}
