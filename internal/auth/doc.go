// Package auth provides bearer-token authentication and the role model of
// the ops API.
//
// There is no user store. Tokens are HS256 JWTs signed with the shared
// security.jwt.secret and minted offline by `fieldcore -issue-token`. The
// role claim maps statically onto permissions:
//
//	viewer   -> state:read
//	operator -> state:read, audit:read
//	admin    -> state:read, audit:read, system:read
package auth
