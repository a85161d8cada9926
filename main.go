package main

import "gencam/cmd"

func main() {
	cmd.Execute()
}
