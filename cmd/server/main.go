package main

import "github.com/Togather-Foundation/appkit/cmd/server/cmd"

func main() {
	cmd.Execute()
}
