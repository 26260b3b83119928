// Package auth provides admin bearer-token authentication for the command API.
package auth

import "time"

const (
	// AuthorizationHeader is the HTTP header for authorization.
	AuthorizationHeader = "Authorization"

	// BearerScheme is the authorization scheme accepted by the middleware.
	BearerScheme = "Bearer"

	// DefaultVerifiedTTL is how long a verified token skips the bcrypt check.
	DefaultVerifiedTTL = 5 * time.Minute
)
