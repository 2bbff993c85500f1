package main

import "bookreader/cmd"

func main() {
	cmd.Execute()
}
