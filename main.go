package main

import "github.com/tanq16/siphon/cmd"

func main() {
	cmd.Execute()
}
