// Package inbound exposes the protocol HTTP surface of a participant.
//
// Every message route authenticates the bearer token first, then checks that
// the posted message type and correlation id agree with the path before the
// message reaches the service.
package inbound
