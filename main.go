package main

import "github.com/spamguard/core/cmd"

func main() {
	cmd.Execute()
}
