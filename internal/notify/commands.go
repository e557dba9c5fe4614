package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/crossarb/crossarb/internal/logging"
)

// CommandKind is one of the accepted operator commands.
type CommandKind string

const (
	CommandExecute CommandKind = "EXECUTE"
	CommandStatus  CommandKind = "STATUS"
	CommandHalt    CommandKind = "HALT"
	CommandResume  CommandKind = "RESUME"
)

// Command is a parsed operator instruction from the command channel.
type Command struct {
	Kind          CommandKind
	OpportunityID int64
}

// ParseCommand parses one inbound message. Accepted forms: "EXECUTE <id>",
// "STATUS", "HALT", "RESUME"; case-insensitive, extra whitespace tolerated.
func ParseCommand(raw string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	kind := CommandKind(strings.ToUpper(fields[0]))
	switch kind {
	case CommandStatus, CommandHalt, CommandResume:
		if len(fields) != 1 {
			return Command{}, fmt.Errorf("%s takes no arguments", kind)
		}
		return Command{Kind: kind}, nil
	case CommandExecute:
		if len(fields) != 2 {
			return Command{}, fmt.Errorf("usage: EXECUTE <opportunity_id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return Command{}, fmt.Errorf("bad opportunity id %q", fields[1])
		}
		return Command{Kind: CommandExecute, OpportunityID: id}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q", fields[0])
	}
}

// CommandBus subscribes to the operator command channel over redis Pub/Sub.
type CommandBus struct {
	rdb     *redis.Client
	channel string
}

func NewCommandBus(addr, password string, db int, channel string) *CommandBus {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &CommandBus{rdb: rdb, channel: channel}
}

func (b *CommandBus) Close() error {
	return b.rdb.Close()
}

// Publish sends a raw command line; the operator side of the bus.
func (b *CommandBus) Publish(ctx context.Context, raw string) error {
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}
	return nil
}

// Listen subscribes and invokes handle for each well-formed command until the
// context ends. Malformed messages are logged and dropped.
func (b *CommandBus) Listen(ctx context.Context, handle func(ctx context.Context, cmd Command)) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	logging.Infof("[commands] listening on %s", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			cmd, err := ParseCommand(msg.Payload)
			if err != nil {
				logging.Warnf("[commands] dropped %q: %v", msg.Payload, err)
				continue
			}
			handle(ctx, cmd)
		}
	}
}
