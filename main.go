package main

import "github.com/eliquinox/simple-rsm/cmd"

func main() {
	cmd.Execute()
}
