package main

import "github.com/CWD273/cwiptvm3/cmd"

func main() {
	cmd.Execute()
}
