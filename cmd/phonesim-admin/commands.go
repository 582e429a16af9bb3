package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"phonesim-core/common/mqtt"
	rediscommon "phonesim-core/common/redis"
	"phonesim-core/internal/consumer"
	"phonesim-core/internal/events"
	"phonesim-core/internal/mapping"
	"phonesim-core/internal/models"
	"phonesim-core/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runner func(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error

func tenantsCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "tenants",
		Short: "List persisted tenants and the current tenant",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, e *env, _ []string) error {
			p, err := e.persistence(ctx)
			if err != nil {
				return err
			}
			current := p.LoadCurrentTenant(ctx)
			for _, entry := range p.LoadTenantList(ctx) {
				marker := " "
				if entry.Name == current {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, entry.Name)
			}
			return nil
		}),
	}
}

func mappingsCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "Print the contact to tenant mapping table",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, e *env, _ []string) error {
			p, err := e.persistence(ctx)
			if err != nil {
				return err
			}
			writeMappings(os.Stdout, mapping.NewTable(p, e.logger).All(ctx))
			return nil
		}),
	}
}

func writeMappings(w io.Writer, all map[string]string) {
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "%s -> %s\n", id, all[id])
	}
}

func docCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "doc <tenant>",
		Short: "Print a tenant's contact document",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, e *env, args []string) error {
			docs := store.NewRedisDocumentStore(e.redis, e.cfg.PhoneSim.DocPrefix)
			name := models.DocumentName(strings.TrimSpace(args[0]))
			doc, version, err := docs.Get(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", name, err)
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("# %s version=%d\n%s\n", name, version, out)
			return nil
		}),
	}
}

func switchCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "switch <tenant>",
		Short: "Ask the sync service to switch the active tenant",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, e *env, args []string) error {
			return enqueue(ctx, e, consumer.Command{Type: consumer.CommandSwitch, Tenant: args[0]})
		}),
	}
}

func addCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "add <tenant>",
		Short: "Add a tenant to the tenant list",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, e *env, args []string) error {
			return enqueue(ctx, e, consumer.Command{Type: consumer.CommandAddTenant, Tenant: args[0]})
		}),
	}
}

func removeCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <tenant>",
		Short: "Remove a tenant and its persisted data",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, e *env, args []string) error {
			return enqueue(ctx, e, consumer.Command{Type: consumer.CommandRemoveTenant, Tenant: args[0]})
		}),
	}
}

func mapCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "map <contact-id> <tenant>",
		Short: "Map a contact id to the tenant it represents",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(ctx context.Context, e *env, args []string) error {
			return enqueue(ctx, e, consumer.Command{
				Type:      consumer.CommandMapContact,
				ContactID: args[0],
				Tenant:    args[1],
			})
		}),
	}
}

func sendCmd(with runner) *cobra.Command {
	var from, to, content, uid string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a cross-tenant message",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, e *env, _ []string) error {
			if to == "" || content == "" {
				return fmt.Errorf("--to and --content are required")
			}
			return enqueue(ctx, e, sendCommand(from, to, content, uid, time.Now()))
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "Sender tenant (default: the active tenant)")
	cmd.Flags().StringVar(&to, "to", "", "Receiver contact id in the sender's document")
	cmd.Flags().StringVar(&content, "content", "", "Message text")
	cmd.Flags().StringVar(&uid, "uid", "", "Message uid (generated when empty)")
	return cmd
}

// sendCommand 构造 send 命令，uid 为空时生成
func sendCommand(from, to, content, uid string, now time.Time) consumer.Command {
	if uid == "" {
		uid = uuid.NewString()
	}
	return consumer.Command{
		Type: consumer.CommandSend,
		Message: &models.CrossTenantMessage{
			UID:              uid,
			Timestamp:        now.UTC(),
			SenderID:         "user",
			Content:          content,
			SenderCharacter:  strings.TrimSpace(from),
			ReceiverID:       strings.TrimSpace(to),
			IsCrossCharacter: true,
		},
	}
}

func enqueue(ctx context.Context, e *env, cmd consumer.Command) error {
	id, err := rediscommon.PublishJSONToStream(ctx, e.redis, e.cfg.PhoneSim.CommandStream, cmd)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s command: %w", cmd.Type, err)
	}
	e.logger.Debug("Command enqueued",
		zap.String("type", cmd.Type),
		zap.String("stream_id", id),
	)
	fmt.Printf("%s %s\n", cmd.Type, id)
	return nil
}

func watchCmd(with runner) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Tail tenant and message events",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, e *env, _ []string) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if e.cfg.Events.Backend == "mqtt" {
				return watchMQTT(ctx, e)
			}
			return watchStream(ctx, e.redis, e.cfg.Events.Stream, os.Stdout)
		}),
	}
}

func watchMQTT(ctx context.Context, e *env) error {
	mqttCfg := e.cfg.MQTT
	// 不能复用服务的 client id，否则 broker 会踢掉服务连接
	mqttCfg.ClientID = fmt.Sprintf("%s-%s", appName, uuid.NewString()[:8])

	client, err := mqtt.NewClient(&mqttCfg, e.logger)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	err = client.Subscribe(mqttCfg.Topic, mqttCfg.QoS, func(_ string, payload []byte) error {
		event, err := events.Decode(payload)
		if err != nil {
			return err
		}
		fmt.Println(formatEvent(event))
		return nil
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// watchStream 从流尾部开始打印事件，直到 ctx 取消
func watchStream(ctx context.Context, client *redis.Client, stream string, w io.Writer) error {
	lastID, err := streamTail(ctx, client, stream)
	if err != nil {
		return err
	}
	for ctx.Err() == nil {
		lastID, err = printEvents(ctx, client, stream, lastID, time.Second, w)
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}

func streamTail(ctx context.Context, client *redis.Client, stream string) (string, error) {
	last, err := client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	if len(last) == 0 {
		return "0-0", nil
	}
	return last[0].ID, nil
}

// printEvents 打印 afterID 之后的一批事件，返回最后处理的 id
func printEvents(ctx context.Context, client *redis.Client, stream, afterID string, block time.Duration, w io.Writer) (string, error) {
	msgs, err := rediscommon.TailStream(ctx, client, stream, afterID, 100, block)
	if err != nil {
		return afterID, err
	}
	for _, msg := range msgs {
		afterID = msg.ID
		data, _ := msg.Values["data"].(string)
		event, err := events.Decode([]byte(data))
		if err != nil {
			fmt.Fprintf(w, "%s <invalid event: %v>\n", msg.ID, err)
			continue
		}
		fmt.Fprintln(w, formatEvent(event))
	}
	return afterID, nil
}

func formatEvent(event events.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-18s tenant=%s", event.Timestamp.Format(time.RFC3339), event.Type, event.Tenant)
	if event.UID != "" {
		fmt.Fprintf(&b, " uid=%s", event.UID)
	}
	keys := make([]string, 0, len(event.Detail))
	for k := range event.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, event.Detail[k])
	}
	return b.String()
}
