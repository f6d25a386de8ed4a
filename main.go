package main

import "github.com/kozaktomas/face-scan/cmd"

func main() {
	cmd.Execute()
}
