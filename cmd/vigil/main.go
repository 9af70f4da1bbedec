// Command vigil runs the single-session presence gateway.
package main

import (
	"os"

	"vigil/cmd/internal/app"
)

func main() {
	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
