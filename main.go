package main

import (
	cmd "github.com/cozy-creator/genjobs/cmd/genjobs"
)

func main() {
	cmd.Execute()
}
