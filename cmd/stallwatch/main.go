package main

import (
	"github.com/NVIDIA/stallwatch/pkg/cli"
)

func main() {
	cli.Execute()
}
