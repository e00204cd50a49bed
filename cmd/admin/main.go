package main

import (
	"log"

	"github.com/gatherly-app/gatherly-backend/internal/tools/admin"
)

func main() {
	if err := admin.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
