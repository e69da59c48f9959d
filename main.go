package main

import "github.com/qrave1/meshroom/cmd"

func main() {
	cmd.Execute()
}
