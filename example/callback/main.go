package main

import (
	"context"
	"fmt"
	"log"
	"time"

	filetobmon "github.com/alanmitchell/file-to-bmon"
)

func main() {
	flow, err := filetobmon.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	callback := func(_ context.Context, batch []filetobmon.Reading) error {
		for _, r := range batch {
			fmt.Printf("%s sensor=%s value=%g\n",
				time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339),
				r.SensorID,
				r.Value,
			)
		}
		return nil
	}

	// Print the ahfc destination instead of posting it; archive still goes to Timescale.
	if err := flow.Run(context.Background(), 0, filetobmon.StreamOutCallback("ahfc", callback)); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}
