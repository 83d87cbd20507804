package main

import "steadybench/cmd"

func main() {
	cmd.Execute()
}
