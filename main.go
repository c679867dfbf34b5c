package main

import (
	"stepweave/cmd"
)

func main() {
	cmd.Execute()
}
