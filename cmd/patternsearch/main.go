package main

import "github.com/vjranagit/patternsearch/cmd/patternsearch/commands"

func main() {
	commands.Execute()
}
