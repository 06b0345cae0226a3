package main

import (
	"os"

	"licensor/cmd/licensectl/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
