package main

import "github.com/vietddude/txguard/internal/cli"

func main() {
	cli.Execute()
}
