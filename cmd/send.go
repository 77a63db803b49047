package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/beacon/client"
	"github.com/luma/beacon/internal/env"
	"github.com/luma/beacon/internal/jsonframe"
	"github.com/luma/beacon/protocol"
)

var (
	// Address of the server to send to
	sendAddr string

	// A frame written as JSON, instead of the positional words
	sendJSON string

	sendTimeout time.Duration
)

func init() {
	flags := SendCmd.Flags()

	flags.StringVarP(&sendAddr, "addr", "a", net.JoinHostPort("127.0.0.1", strconv.Itoa(6379)), "The server to send the frame to")
	flags.StringVar(&sendJSON, "json", "", `Send this frame, written as JSON, e.g. '[{"simple":"OK"},1,null]'`)
	flags.DurationVar(&sendTimeout, "timeout", 5*time.Second, "How long to wait for the reply")
}

var SendCmd = &cobra.Command{
	Use:   "send [WORD...]",
	Short: "Send one frame to a server and print the reply",
	Long: `Send one frame to a server and print the reply as JSON

Words are sent as an array of bulk strings, the way redis-cli sends commands.
Use --json to send any other frame.

Usage
	beacon send SET greeting hello
	beacon send --json '{"simple":"PING"}'

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, err := frameFromArgs(sendJSON, args)
		if err != nil {
			return err
		}

		conf, err := env.LoadConfig(cmd.Context())
		if err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.LogLevel)
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		c, err := client.Dial(ctx, sendAddr, client.Options{
			Conn: conf.ConnOptions(),
			Log:  log.Named("client"),
		})
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.Do(ctx, frame)

		var errReply protocol.Error
		if err != nil && !errors.As(err, &errReply) {
			return err
		}

		out, marshalErr := jsonframe.Marshal(reply)
		if marshalErr != nil {
			return marshalErr
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		if err != nil {
			log.Debug("Server replied with an error", zap.Error(err))
			return err
		}

		return nil
	},
}

func frameFromArgs(rawJSON string, words []string) (protocol.Frame, error) {
	if rawJSON != "" {
		if len(words) > 0 {
			return nil, errors.New("pass either --json or words, not both")
		}

		return jsonframe.Unmarshal([]byte(rawJSON))
	}

	if len(words) == 0 {
		return nil, errors.New("nothing to send, pass some words or --json")
	}

	frame := make(protocol.Array, 0, len(words))
	for _, word := range words {
		frame = append(frame, protocol.Bulk(word))
	}

	return frame, nil
}
