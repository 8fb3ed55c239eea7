package main

import "github.com/felixgeelhaar/keepsake/cmd/keepsake/cli"

func main() {
	cli.Execute()
}
