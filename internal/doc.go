// Package internal holds helpers private to authcore: secure random
// generation and the opaque refresh-token codec. Nothing here is part of the
// public API.
//
// The config sub-package loads the authd server configuration and is equally
// private.
package internal
