package main

import (
	"log"

	"ticket-backoffice/cmd"
	_ "ticket-backoffice/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
