package main

import "github.com/ogulcanaydogan/ad-alert-guardian/internal/cli"

func main() {
	cli.Execute()
}
