package main

import "github.com/dvcrn/kickclip/internal/cli"

func main() {
	cli.Main()
}
