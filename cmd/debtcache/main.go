package main

import "github.com/debtmap/debtcache/cmd/debtcache/cmd"

func main() {
	cmd.Execute()
}
