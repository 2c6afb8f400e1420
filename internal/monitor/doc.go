// Package monitor implements a terminal dashboard for a running
// opsloopd. It polls the daemon's /health and /api/v1/stats endpoints
// and renders queue, knowledge base and rule trends as sparklines.
package monitor
