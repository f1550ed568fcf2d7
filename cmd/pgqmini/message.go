package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	// Packages
	queue "github.com/mutablelogic/go-pgqmini/pkg/queue"
	schema "github.com/mutablelogic/go-pgqmini/pkg/queue/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type MessageCommands struct {
	Publish   PublishCommand   `cmd:"" name:"publish" help:"Publish messages." group:"MESSAGE"`
	Subscribe SubscribeCommand `cmd:"" name:"subscribe" help:"Claim, print and complete messages." group:"MESSAGE"`
	Get       GetCommand       `cmd:"" name:"get" help:"Get a message." group:"MESSAGE"`
}

type PublishCommand struct {
	Payload []string `arg:"" name:"payload" help:"JSON payload, or - to read one from stdin"`
}

type SubscribeCommand struct {
	Count   uint          `name:"count" short:"n" help:"Number of messages to process, or zero to run until interrupted" default:"1"`
	Timeout time.Duration `name:"timeout" help:"Time to wait for each message, or zero to wait indefinitely"`
}

type GetCommand struct {
	Id uint64 `arg:"" name:"id" help:"Message id"`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *PublishCommand) Run(ctx *Globals) error {
	payloads, err := cmd.payloads()
	if err != nil {
		return err
	}

	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	// Publish one message, or all in one batch
	if len(payloads) == 1 {
		return q.Publish(ctx.ctx, payloads[0])
	}
	return q.PublishAll(ctx.ctx, payloads...)
}

func (cmd *SubscribeCommand) Run(ctx *Globals) error {
	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	for i := uint(0); cmd.Count == 0 || i < cmd.Count; i++ {
		if err := cmd.next(ctx.ctx, q); errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no message within %v", cmd.Timeout)
		} else if errors.Is(err, context.Canceled) {
			return nil
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (cmd *GetCommand) Run(ctx *Globals) error {
	q, err := ctx.Open()
	if err != nil {
		return err
	}
	defer q.Close(context.Background())

	msg, err := q.Get(ctx.ctx, cmd.Id)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (cmd *PublishCommand) payloads() ([][]byte, error) {
	result := make([][]byte, 0, len(cmd.Payload))
	for _, payload := range cmd.Payload {
		if payload == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return nil, err
			}
			result = append(result, data)
		} else {
			result = append(result, []byte(payload))
		}
	}
	return result, nil
}

func (cmd *SubscribeCommand) next(ctx context.Context, q *queue.Queue) error {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}
	_, err := q.Subscribe(ctx, func(_ context.Context, msg *schema.Message) error {
		_, err := fmt.Fprintf(os.Stdout, "%d\t%s\n", msg.Id, msg.Payload)
		return err
	})
	return err
}
