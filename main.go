package main

import "github.com/kebairia/sitebackup/cmd"

func main() {
	cmd.Execute()
}
