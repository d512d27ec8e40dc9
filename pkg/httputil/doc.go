// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, result)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteNotFoundError(w, "unknown key")
//	httputil.WriteInsufficientStorage(w, "quota exceeded")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req SaveRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Query parameters:
//
//	strict := httputil.ParseQueryBool(r, "strict", false)
//
// # Middleware
//
//	httputil.Chain(handler,
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//	)
package httputil
