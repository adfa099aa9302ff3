package main

import "github.com/JakeFAU/canvaspal/cmd"

func main() {
	cmd.Execute()
}
