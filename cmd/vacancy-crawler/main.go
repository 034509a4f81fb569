// Package main is the vacancy-crawler entry point.
package main

import "github.com/marketscope/vacancy-crawler/cmd"

func main() {
	cmd.Execute()
}
