package main

import "github.com/tagwatch/tagwatch/cmd"

func main() {
	cmd.Execute()
}
