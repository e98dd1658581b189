// seed schedules a handful of representative WelcomeJob runs against the
// configured store, for exercising the worker and admin API locally.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/outpostlabs/jobengine/config"
	"github.com/outpostlabs/jobengine/internal/bootstrap"
	"github.com/outpostlabs/jobengine/internal/jobcore"
	"github.com/outpostlabs/jobengine/internal/jobregistry"

	_ "github.com/outpostlabs/jobengine/jobs"
)

type seedSpec struct {
	email    string
	queue    string
	priority int
	wait     time.Duration
}

var seeds = []seedSpec{
	{"ada@example.com", "", 0, 0},
	{"grace@example.com", "", 0, 0},
	{"alan@example.com", "email", 10, 0},
	{"margaret@example.com", "email", 90, 0},
	{"katherine@example.com", "", 50, 30 * time.Second},
	{"dorothy@example.com", "", 50, 5 * time.Minute},
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer store.Close()

	jobcore.Configure(store.Adapter)
	defer jobcore.Reset()

	handle, err := jobregistry.For("WelcomeJob")
	if err != nil {
		log.Fatalf("resolve WelcomeJob: %v", err)
	}

	var scheduled int
	for _, s := range seeds {
		args, err := json.Marshal(s.email)
		if err != nil {
			log.Fatalf("marshal args: %v", err)
		}

		opts := jobcore.SetOpts{}
		if s.queue != "" {
			opts.Queue = &s.queue
		}
		if s.priority != 0 {
			opts.Priority = &s.priority
		}
		if s.wait != 0 {
			opts.Wait = &s.wait
		}

		record, err := handle.Set(opts).PerformLater(ctx, args)
		if err != nil {
			log.Fatalf("schedule %s: %v", s.email, err)
		}
		runAt := "unscheduled"
		if record.RunAt != nil {
			runAt = record.RunAt.Format(time.RFC3339)
		}
		fmt.Printf("  scheduled job %s  handler=%s queue=%s priority=%d run_at=%s\n",
			record.ID, record.Handler, record.Queue, record.Priority, runAt)
		scheduled++
	}

	fmt.Println()
	fmt.Printf("Seed complete: %d jobs scheduled.\n", scheduled)
	fmt.Println()
	fmt.Println("Run a worker to process them:")
	fmt.Println()
	fmt.Println("  go run ./cmd/jobs work")
}
