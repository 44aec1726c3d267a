package main

import "github.com/sgalabs/agentflow/cmd"

func main() {
	cmd.Execute()
}
