package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/vocab-embedding-pipeline/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
