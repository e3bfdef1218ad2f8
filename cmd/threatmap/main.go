// Command threatmap classifies FinTech threat incidents, maps them to MITRE
// ATT&CK techniques and exports the results.
//
// Usage:
//
//	threatmap run      [-config file] [-incidents file] [-out dir] [-formats json,csv,text]
//	threatmap enqueue  [-config file] [-incidents file] [-wait 5m]
//	threatmap worker   [-config file]
//	threatmap export   [-config file] [-out dir] [-formats json,csv,text,html]
//	threatmap validate [-config file] [-taxonomy file] [-dump]
//
// Configuration is read from threatmap.yaml (see package config) and
// THREATMAP_* environment variables.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
