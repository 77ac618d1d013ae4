package main

import "github.com/dgduncan/go-netfirst-cache/internal/cli"

func main() {
	cli.Execute()
}
