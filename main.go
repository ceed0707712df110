package main

import "github.com/routesmith/ribd/cmd"

func main() {
	cmd.Execute()
}
