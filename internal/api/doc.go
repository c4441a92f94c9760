// Package api exposes the HTTP surface of the agent: the streaming chat
// endpoint, the contract registry listings, health and metrics.
package api
