package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-gemm/internal/secret"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	msg, err := secret.Decode(secret.Message)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to decode message")
	}
	fmt.Println(msg)
}
