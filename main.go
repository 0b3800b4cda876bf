package main

import (
	"github.com/rosschurchill/zeroconfdlna/cmd"
)

func main() {
	cmd.Execute()
}
