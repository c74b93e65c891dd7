package main

import (
	_ "time/tzdata"

	"tibber-pricing/internal/cli"
)

func main() {
	cli.Execute()
}
