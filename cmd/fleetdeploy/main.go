package main

import "github.com/fleetdeploy/fleetdeploy/cmd/fleetdeploy/cli/cmd"

func main() {
	cmd.Execute()
}
