package main

import "github.com/bretuobay/snkv/internal/cli"

func main() {
	cli.Execute()
}
