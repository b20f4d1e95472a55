package main

import "github.com/jswensen/logsync/cmd"

func main() {
	cmd.Execute()
}
