// Package main is the entry point for the enrichd service: an asynchronous
// enrichment job orchestrator with idempotent submission, tenant-fair
// queueing and partial-success embedding upserts.
package main

import "enrichd/cmd"

func main() {
	cmd.Execute()
}
