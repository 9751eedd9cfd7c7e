package main

import "github.com/strrl/ctslice/cmd/ctslice/commands"

func main() {
	commands.Execute()
}
