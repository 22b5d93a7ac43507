// Package http provides the JSON response helpers used by the registry
// inspection endpoints.
//
//	res := gohttp.NewResponse(w)
//
//	res.JSON(200, data)           // raw JSON with status
//	res.Success(data)             // 200 {"data": ...}
//	res.NoContent()               // 204
//
//	res.Error(400, "bad input")   // {"message": "bad input"}
//	res.NotFound()                // 404 {"message": "Not found."}
//	res.ServerError()             // 500 {"message": "Server Error."}
//	res.ValidationError(errs)     // 422 {"errors": {"field": ["msg"]}}
//	res.Problem(err)              // status chosen by StatusFor(err)
//
// StatusFor maps registry errors onto status codes: inject.ErrNotFound is
// 404, inject.ErrMisuse and inject.ErrArgument are 400, inject.ErrCycle is
// 409 and anything else is 500.
package http
