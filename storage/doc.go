// Package storage defines the narrow storage contracts used by the authorization server.
//
// The interfaces are:
//   - CodeStore: issued authorization codes, redeemed exactly once
//   - TokenStore: access and refresh token records
//   - UserDirectory: resource-owner lookup and password authentication
//
// Clients have no store. The client identifier itself carries the client's
// registration, encrypted by security.ClientCodec.
//
// The in-memory implementation lives in storage/memory. A transactional backend
// can be substituted by implementing the same interfaces.
package storage
