package main

import "echo-backend/cmd"

func main() {
	cmd.Run()
}
