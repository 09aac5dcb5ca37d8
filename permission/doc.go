// Package permission holds the authorization data model of the governance
// portal: the permission catalog, the role registry and the resolver that
// turns role assignments into an effective permission set.
//
// # Catalog
//
// A [Catalog] is the fixed universe of permission names. Every name has the
// dotted resource.action[.scope] form, belongs to exactly one resource
// grouping and is mapped to a stable bit so effective sets can be checked
// through a fixed-width [Mask]. A catalog is frozen before use.
//
// # Role registry
//
// [RoleRegistry] validates every role write before commit: struct rules,
// catalog membership, unique names, system role immutability, and a walk of
// the would-be ancestor chain with a visited set and a depth limit. A
// rejected write leaves the registry unchanged.
//
// # Resolver
//
// [Resolver] unions the permissions of a user's active roles and all of
// their ancestors, recording which roles granted each permission. Results
// are cached per user, graph version and active assignment set.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import govauth, remote, or session.
package permission
