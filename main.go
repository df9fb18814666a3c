package main

import (
	"os"

	"redkey/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
