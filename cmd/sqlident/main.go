package main

import (
	"fmt"
	"os"

	"sqlident/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "sqlident:", err)
		os.Exit(1)
	}
}
