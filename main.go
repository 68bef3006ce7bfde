package main

import "github.com/artigo/echolens/cmd"

func main() {
	cmd.Execute()
}
