package main

import (
	"context"
	"fmt"
	"time"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type MaintenanceCommands struct {
	Stats   StatsCommand   `cmd:"" name:"stats" help:"Print message counts by status." group:"MAINTENANCE"`
	Requeue RequeueCommand `cmd:"" name:"requeue" help:"Return stuck processing messages to pending." group:"MAINTENANCE"`
	Purge   PurgeCommand   `cmd:"" name:"purge" help:"Delete completed messages." group:"MAINTENANCE"`
}

type StatsCommand struct{}

type RequeueCommand struct {
	OlderThan time.Duration `name:"older-than" help:"Requeue messages processing for longer than this" required:""`
}

type PurgeCommand struct {
	OlderThan time.Duration `name:"older-than" help:"Delete messages completed longer ago than this" default:"24h"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *StatsCommand) Run(ctx *Globals) error {
	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	stats, err := q.Stats(ctx.ctx)
	if err != nil {
		return err
	}
	fmt.Println(stats)
	return nil
}

func (cmd *RequeueCommand) Run(ctx *Globals) error {
	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	ids, err := q.Requeue(ctx.ctx, cmd.OlderThan)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func (cmd *PurgeCommand) Run(ctx *Globals) error {
	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	n, err := q.Purge(ctx.ctx, cmd.OlderThan)
	if err != nil {
		return err
	}
	fmt.Println("purged", n, "messages")
	return nil
}
