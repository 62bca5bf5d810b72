package main

import "portfolio-oracle/cmd"

func main() {
	cmd.Execute()
}
