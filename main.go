package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

func entry() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	listen := flag.String("listen", "", "listen address, overrides config and MOLSUITE_LISTEN")
	flag.Parse()
	cfg, err := loadConfig(*configPath, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	s, err := newServer(cfg)
	if err != nil {
		return fmt.Errorf("constructor: %v", err)
	}
	defer s.Close()
	if err := s.prunePods(); err != nil {
		log.Printf("Warning: failed to prune pods: %v", err)
	}
	return s.listen()
}

func main() {
	if err := entry(); err != nil {
		log.Fatal(err)
	}
}
