package main

import (
	"os"

	// Register plugins via init()
	_ "pwnrelay/internal/plugins/companion"
	_ "pwnrelay/internal/plugins/homeassistant"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
