package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
	"github.com/odyssey-erp/franchise-tracker/jobs"
)

// recalc queues a profit-share recalculation on the worker queue.
//
//	recalc -sweep [-month 2024-06]         recalculate a month for every franchise
//	recalc [-franchise id] [-month 2024-06] refresh existing records
func main() {
	sweep := flag.Bool("sweep", false, "sweep a month for every franchise")
	franchise := flag.String("franchise", "", "franchise id filter")
	month := flag.String("month", "", "month key YYYY-MM")
	flag.Parse()

	var (
		task *asynq.Task
		err  error
	)
	if *sweep {
		task, err = jobs.NewSweepMonthTask(*month)
	} else {
		var f profitshare.BatchFilter
		if *franchise != "" {
			id, perr := uuid.Parse(*franchise)
			if perr != nil {
				log.Fatalf("franchise: %v", perr)
			}
			f.FranchiseID = &id
		}
		if *month != "" {
			key, perr := shared.ParseMonthKey(*month)
			if perr != nil {
				log.Fatalf("month: %v", perr)
			}
			f.Month = &key
		}
		task, err = jobs.NewRecalculateBatchTask(f)
	}
	if err != nil {
		log.Fatalf("build task: %v", err)
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: getenv("REDIS_ADDR", "127.0.0.1:6379")})
	defer client.Close()

	info, err := client.EnqueueContext(context.Background(), task)
	if err != nil {
		log.Fatalf("enqueue: %v", err)
	}
	log.Printf("queued %s as %s on %s", info.Type, info.ID, info.Queue)
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
