package main

import "govgate/internal/cli"

func main() {
	cli.Execute()
}
