package main

import (
	"fmt"
	"os"

	"github.com/mingainspire/prplx/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(); err != nil {
		a.Log.Error("http server exited", "error", err)
		a.Close()
		os.Exit(1)
	}
}
