package main

import "github.com/kozaktomas/voter-gate/cmd"

func main() {
	cmd.Execute()
}
