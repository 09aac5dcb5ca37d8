// Package remote is the typed client for the governance portal's identity
// and access API: authentication, role management, the permission catalog
// and user role assignment.
//
// Authentication endpoints take the bearer token explicitly and go through
// the public HTTP client. Resource endpoints go through the authorized
// client, whose transport is expected to attach credentials and handle
// expired-token replay.
package remote
