package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jkeller/secondbrain/internal/cli"
)

func main() {
	_ = godotenv.Load()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
