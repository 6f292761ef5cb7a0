package main

import (
	"fmt"
	"os"

	"github.com/trackpay/trackpay-api/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "trackpay: %v\n", err)
		os.Exit(1)
	}
}
