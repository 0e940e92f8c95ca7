// Package userdata holds the client's copy of server-owned user data:
// invites, friend requests, friends, competitions and the wallet balance.
//
// The Store is the reload side of event reconciliation. Each Refetch method
// replaces one list from the REST API; ReloadAll replaces everything and
// pushes the competition lists to the subscription registry, so competitions
// that end drop out of the subscribed set. A background loop reloads on a
// fixed interval to catch events missed while disconnected.
package userdata
