package main

import "github.com/straymeet/straymeet/cmd"

func main() {
	cmd.Execute()
}
