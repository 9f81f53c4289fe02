package main

import "github.com/pilab-dev/biolock/cmd/biolock/cmd"

func main() {
	cmd.Execute()
}
