package main

import "github.com/pressly/ephemeraldb/internal/cli"

func main() {
	cli.Main()
}
