// Package coord implements the coordination service: agent
// authentication and liveness, the claim/complete job lifecycle, and
// schedule management. It composes the store backends with the result
// sink and metrics so transport layers stay thin.
package coord
