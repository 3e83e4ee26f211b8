// Package main provides the sio2prom CLI, which exports ScaleIO statistics
// as Prometheus metrics.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
