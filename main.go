package main

import "github.com/vibast-solutions/ms-go-settlement/cmd"

func main() {
	cmd.Execute()
}
