package main

import (
	"log"
	"os"

	"github.com/plap9/saas/cmd/internal/app"
)

func main() {
	if err := app.Main(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
