package main

import "github.com/openmcp-project/image-promoter/cmd"

func main() {
	cmd.Execute()
}
