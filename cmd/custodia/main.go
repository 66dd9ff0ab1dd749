package main

import "github.com/custodia-labs/custodia-go/cmd/custodia/cmd"

func main() {
	cmd.Execute()
}
