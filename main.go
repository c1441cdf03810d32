package main

import "syncrelay/cmd"

func main() {
	cmd.Execute()
}
