package main

import "jobsieve/internal/cli"

func main() {
	cli.Execute()
}
