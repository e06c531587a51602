package main

import (
	"flag"
	"log"

	"github.com/danmuck/rangectl/internal/config"
)

func main() {
	output := flag.String("output", "cmd/rangectl/lab.toml", "output path for the lab config template")
	validate := flag.Bool("validate", false, "validate an existing lab config instead of writing one")
	input := flag.String("input", "cmd/rangectl/lab.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite an existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.LoadLab(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated lab config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote lab config template to %s", *output)
}
