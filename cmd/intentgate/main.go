package main

import "github.com/intentgate/intentgate/cmd/intentgate/cmd"

func main() {
	cmd.Execute()
}
