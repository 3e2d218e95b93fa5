// Package server receives GitHub push webhooks for the deployment repository
// and re-runs the installation when the configured branch moves.
//
// Requests are checked for size, content type and HMAC-SHA256 signature
// before anything runs. Runs for one deployment directory never overlap:
// a push that arrives while a run is in progress is answered with 429 and
// recorded as rejected. Accepted pushes are acknowledged with 202 and
// provisioned in the background.
package server
