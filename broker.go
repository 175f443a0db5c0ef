package main

import (
	"github.com/fedspend/broker/cmd"
	"github.com/fedspend/broker/pkg/env"
	"github.com/fedspend/broker/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("broker failure", "error", err)
	}
}
