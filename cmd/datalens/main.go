package main

import "github.com/qs3c/anal_data_server/internal/cli"

func main() {
	cli.Execute()
}
