// Package common contains shared constants and sentinel errors used across
// FinKeeper components.
package common

// AuthorizationHeaderName carries the bearer token on HTTP requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix precedes the JWT in the Authorization header.
const BearerPrefix = "Bearer "

// Wire field names carrying sync metadata next to the domain fields.
const (
	FieldID           = "id"
	FieldVersion      = "_version"
	FieldLastModified = "_lastModified"
)

// DefaultChunkSize is the number of records pushed or reconciled together.
const DefaultChunkSize = 10
