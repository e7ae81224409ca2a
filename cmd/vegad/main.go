package main

import "github.com/vegaexchange/vegad/internal/cli"

func main() {
	cli.Execute()
}
