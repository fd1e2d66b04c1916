package main

import "RadioRoyal/cmd"

func main() {
	cmd.Execute()
}
