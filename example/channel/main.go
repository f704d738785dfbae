package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	filetobmon "github.com/alanmitchell/file-to-bmon"
)

func main() {
	flow, err := filetobmon.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sink, batches, closeBatches := filetobmon.NewChannelSink("fanout", 32)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fanoutWorker("archive", batches)
	}()

	err = flow.Run(context.Background(), 0, filetobmon.StreamOutSink("archive", sink))
	closeBatches()
	wg.Wait()
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []filetobmon.Reading) {
	for batch := range batches {
		fmt.Printf("[%s] forwarding %d readings at %s\n", name, len(batch), time.Now().Format(time.RFC3339))
	}
}
