package main

import "reviewflow/api/internal/cli"

func main() {
	cli.Execute()
}
