package main

import "github.com/LX-HMKK/SparkBox/cmd/sparkbox/cli"

func main() {
	cli.Execute()
}
