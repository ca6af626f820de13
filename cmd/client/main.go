package main

import "reliefsync/cmd/client/cmd"

func main() {
	cmd.Execute()
}
