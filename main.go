package main

import "github.com/sergev/sdrtool/cmd"

func main() {
	cmd.Execute()
}
