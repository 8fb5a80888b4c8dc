package main

import "pegkeeper/internal/cli"

func main() {
	cli.Execute()
}
