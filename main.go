package main

import (
	"github.com/ecousins25/ogmash-v2/cmd"
)

func main() {
	cmd.Execute()
}
