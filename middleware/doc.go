// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

Wrap handlers with request logging:

	mux.HandleFunc("GET /health", middleware.WithLogging(handler))

Logs request start (method, path, remote) and completion (status,
duration_ms).

# CORS Middleware

Enable cross-origin requests for frontend access:

	server := http.Server{
		Handler: middleware.CORS(mux),
	}

Allows methods GET, POST, OPTIONS with headers Content-Type and
X-Admin-Key. Preflight requests get 204.

# JSON Helpers

Write JSON responses:

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

Parse JSON request bodies, capped at MaxBodyBytes:

	var req models.CreateSessionRequest
	if err := middleware.ParseJSONBody(w, r, &req); err != nil {
		middleware.BodyErrorResponse(w, err) // 413 or 400
		return
	}

# Client IP Extraction

ClientIP attributes a request to an address:

	ip := middleware.ClientIP(r, cfg.TrustedProxies)

With zero trusted proxies the TCP peer is used and X-Forwarded-For is
ignored. With n trusted proxies the entry n places from the right of
X-Forwarded-For is used, so entries a client prepends have no effect.
X-Real-IP is never read. The default voter identifier is a salted hash of
this address.
*/
package middleware
