package main

import "github.com/nchapman/modelfetch/cmd"

func main() {
	cmd.Execute()
}
