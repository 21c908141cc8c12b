package http_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	httpserver "github.com/fyrsmithlabs/deadlined/internal/http"
	"github.com/fyrsmithlabs/deadlined/internal/ingestion"
	"github.com/fyrsmithlabs/deadlined/internal/scheduler"
	"github.com/fyrsmithlabs/deadlined/internal/store"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

// ExampleServer wires the API over an in-memory store.
func ExampleServer() {
	logger := zap.NewNop()
	st := store.NewMemoryStore()

	engine, err := scheduler.NewEngine(scheduler.DispatchFunc(func(context.Context, string, string, deadline.Channel) error {
		return nil
	}), logger)
	if err != nil {
		panic(err)
	}
	deadlines, err := tracker.NewService(st, engine, logger)
	if err != nil {
		panic(err)
	}
	chain, err := extraction.NewChain(logger, []extraction.Interpreter{extraction.NewPatternInterpreter("")})
	if err != nil {
		panic(err)
	}
	manager, err := ingestion.NewManager(context.Background(), ingestion.Deps{
		Chain: chain, Store: st, Scheduler: engine, Logger: logger,
	}, ingestion.Settings{})
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(httpserver.Deps{
		Deadlines: deadlines,
		Extractor: chain,
		Ingestion: manager,
		Reminders: engine,
	}, logger, &httpserver.Config{Host: "localhost", Port: 0})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		panic(err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
