package main

import "github.com/opsmith-ai/opsmith/cmd"

func main() {
	cmd.Execute()
}
