package main

import "github.com/aweris/codex-go/cmd/codex/cmd"

func main() {
	cmd.Execute()
}
