package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	// Register transports
	_ "github.com/kimboflash/ecuflash/adapter"
	"github.com/kimboflash/ecuflash/cmd/ecuflash/cmd"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Setup interrupt handler for ctrl-c
	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)
	go func() {
		s := <-quitChan
		log.Printf("got %v, exiting", s)
		cancel()
		// Failsafe if there are deadlocks
		<-time.After(45 * time.Second)
		log.Fatal("took too long to shut down, forcefully exiting")
	}()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
