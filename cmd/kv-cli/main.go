package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loganszeto/respkv/internal/config"
	"github.com/loganszeto/respkv/internal/protocol"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "kv-cli [command [arg ...]]",
		Short: "Talk to a kv-server",
		Long: `Send one command and print the reply, or start an interactive prompt when no command is given.
The server address can also be set as RESPKV_ADDR.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			conn, err := net.DialTimeout("tcp", v.GetString(config.KeyAddr), 5*time.Second)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer conn.Close()

			c := &client{conn: conn, rd: protocol.NewReader(bufio.NewReader(conn))}
			if len(args) > 0 {
				reply, err := c.do(protocol.Command(args...))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), protocol.Format(reply))
				return nil
			}
			return repl(c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String(config.KeyAddr, config.Default().Addr, "server address")
	return cmd
}

type client struct {
	conn net.Conn
	rd   *protocol.Reader
}

func (c *client) do(req protocol.Value) (protocol.Value, error) {
	if err := protocol.WriteValue(c.conn, req); err != nil {
		return protocol.Value{}, fmt.Errorf("send: %w", err)
	}
	reply, err := c.rd.ReadValue()
	if err != nil {
		return protocol.Value{}, fmt.Errorf("read: %w", err)
	}
	return reply, nil
}

func repl(c *client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	prompt := c.conn.RemoteAddr().String() + "> "
	for {
		fmt.Fprint(out, prompt)
		if !sc.Scan() {
			return sc.Err()
		}
		req := protocol.ParseInline(sc.Text())
		if len(req.Array) == 0 {
			continue
		}
		switch strings.ToUpper(req.Array[0].Str) {
		case "QUIT", "EXIT":
			return nil
		}
		reply, err := c.do(req)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, protocol.Format(reply))
	}
}
