// Package services holds the server's business logic: the bulk reconciler
// behind /sync/:type/bulk, the record collaborator used by the CRUD routes
// and presigned receipt URLs.
package services
