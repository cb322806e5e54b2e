package main

import "github.com/josephlewis42/ushell/cmd"

func main() {
	cmd.Execute()
}
