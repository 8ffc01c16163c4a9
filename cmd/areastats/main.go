package main

import "github.com/MeKo-Tech/areastats/internal/cmd"

func main() {
	cmd.Execute()
}
