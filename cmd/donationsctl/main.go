package main

import "os"

func main() {
	if err := execute(newApp(os.Stdout), os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
