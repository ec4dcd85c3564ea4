package main

import "github.com/mohans/reportq/internal/cli"

func main() {
	cli.Execute()
}
