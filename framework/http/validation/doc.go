// Package validation checks flat string inputs against pipe-separated rules.
//
//	v := validation.Make(map[string]string{
//	    "state": req.Query("state"),
//	    "async": req.Query("async"),
//	}, validation.Rules{
//	    "state": "sometimes|in:constructing,constructed,starting,started,closed",
//	    "async": "sometimes|boolean",
//	})
//	if v.Fails() {
//	    res.JSON(http.StatusUnprocessableEntity, v.Errors())
//	}
//
// Rules run left to right and stop at the first failure for a field.
//
//	sometimes             skip the remaining rules when the value is empty
//	required              value must be non-blank
//	required_without:f    value or field f must be non-blank
//	boolean               value parses with strconv.ParseBool
//	in:a,b,c              value is one of the listed options
//	max:n                 at most n characters
//	regex:pattern         value matches pattern
//
// Unknown rule names pass.
package validation
