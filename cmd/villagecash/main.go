package main

import (
	"context"
	"fmt"
	"os"

	"villagecash/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], nil); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
