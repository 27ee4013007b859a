package main

import "github.com/miabbott/git-year-end-report/cmd"

func main() {
	cmd.Execute()
}
