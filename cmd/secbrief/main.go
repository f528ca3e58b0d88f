package main

import (
	"os"

	"horse.fit/secbrief/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
