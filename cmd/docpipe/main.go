package main

import "github.com/MeKo-Tech/docpipe/cmd/docpipe/cmd"

func main() {
	cmd.Execute()
}
