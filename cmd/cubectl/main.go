// Command cubectl exercises the Cube Cloud chat flow from a terminal:
// session creation, token exchange, streamed or buffered chat, SQL
// extraction and chart shaping.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bunlongheng/cube-ai-be/internal/config"
	"github.com/bunlongheng/cube-ai-be/internal/cube"
	"github.com/bunlongheng/cube-ai-be/internal/event"
	"github.com/bunlongheng/cube-ai-be/internal/model"
	"github.com/bunlongheng/cube-ai-be/internal/service"
	"github.com/bunlongheng/cube-ai-be/pkg/logger"
)

const defaultMessage = "Show me appointments by status for next 4 weeks"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the clients built once per invocation.
type app struct {
	cfg    *config.Config
	broker *cube.Broker
	svc    *service.ChatService
}

func newApp(cfg *config.Config, verbose bool) (*app, error) {
	log := logger.NewNop()
	if verbose {
		l, err := logger.NewDevelopment()
		if err != nil {
			return nil, err
		}
		log = l
	}

	client := &http.Client{}
	broker := cube.NewBroker(cfg.Cube, client, log)
	gateway := cube.NewGateway(cfg.Cube, client, log)

	return &app{
		cfg:    cfg,
		broker: broker,
		svc: service.NewChatService(broker, gateway, nil, log, service.Options{
			DefaultExternalID: cfg.DefaultExternalID,
		}),
	}, nil
}

func newRootCmd(load func() *config.Config) *cobra.Command {
	var (
		a          *app
		verbose    bool
		externalID string
	)

	root := &cobra.Command{
		Use:          "cubectl",
		Short:        "Talk to the Cube Cloud chat agent",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(load(), verbose)
			return err
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log upstream calls to stderr")
	root.PersistentFlags().StringVar(&externalID, "external-id", "", "identity for the embed session")

	input := func(args []string) service.ChatInput {
		msg := strings.TrimSpace(strings.Join(args, " "))
		if msg == "" {
			msg = defaultMessage
		}
		return service.ChatInput{Message: msg, ExternalID: externalID}
	}

	root.AddCommand(
		newSessionCmd(func() *app { return a }, &externalID),
		newTokenCmd(func() *app { return a }, &externalID),
		newChatCmd(func() *app { return a }, input),
		newSQLCmd(func() *app { return a }, input),
		newChartCmd(func() *app { return a }, input),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSessionCmd(get func() *app, externalID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Create an embed session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := get().svc.CreateSession(cmd.Context(), *externalID, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), model.SessionResponse{SessionID: s.ID})
		},
	}
}

func newTokenCmd(get func() *app, externalID *string) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create a session and exchange it for a chat token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id := *externalID
			if id == "" {
				id = a.cfg.DefaultExternalID
			}
			tok, err := a.broker.AcquireToken(cmd.Context(), id, []json.RawMessage{})
			if err != nil {
				return err
			}
			out := tok.String()
			if show {
				out = tok.Bearer
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"token": out})
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print the token unredacted")
	return cmd
}

func newChatCmd(get func() *app, input func([]string) service.ChatInput) *cobra.Command {
	var (
		stream bool
		raw    bool
		save   string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			out := cmd.OutOrStdout()
			in := input(args)

			if stream {
				st, err := a.svc.OpenStream(cmd.Context(), in)
				if err != nil {
					return err
				}
				if save == "" {
					return a.svc.Relay(cmd.Context(), st, out, nil)
				}
				f, err := os.Create(save)
				if err != nil {
					_ = st.Close()
					return err
				}
				sw := &saveWriter{out: out, file: f}
				err = a.svc.Relay(cmd.Context(), st, sw, nil)
				if cerr := f.Close(); sw.err == nil {
					sw.err = cerr
				}
				if err != nil {
					return err
				}
				if sw.err != nil {
					return fmt.Errorf("save %s: %w", save, sw.err)
				}
				return nil
			}

			res, err := a.svc.Ask(cmd.Context(), in, event.Options{})
			if err != nil {
				return err
			}
			if save != "" {
				if err := os.WriteFile(save, res.RawBody, 0o644); err != nil {
					return err
				}
			}

			switch {
			case raw:
				_, err = out.Write(res.RawBody)
				return err
			case res.AssistantText != nil:
				return printJSON(out, model.ChatContentResponse{Content: res.Text()})
			default:
				return printJSON(out, res)
			}
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "relay the upstream stream as it arrives")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw NDJSON body")
	cmd.Flags().StringVar(&save, "save", "", "also write the raw body to this file")
	return cmd
}

// saveWriter copies a relayed stream to out and to file. A file failure is
// kept for the caller instead of aborting the relay.
type saveWriter struct {
	out  io.Writer
	file io.Writer
	err  error
}

func (w *saveWriter) Write(p []byte) (int, error) {
	n, err := w.out.Write(p)
	if err != nil {
		return n, err
	}
	if w.err == nil {
		_, w.err = w.file.Write(p)
	}
	return n, nil
}

func newSQLCmd(get func() *app, input func([]string) service.ChatInput) *cobra.Command {
	return &cobra.Command{
		Use:   "sql [message]",
		Short: "Ask a question and print the SQL and Cube query behind the answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := get().svc.Ask(cmd.Context(), input(args), event.Options{DeepSearch: true})
			if err != nil {
				return err
			}
			if res.SQLQuery == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no sqlQuery found in the reply")
			}
			return printJSON(cmd.OutOrStdout(), model.SQLResponse{
				EventCounts: res.EventCounts,
				SQLQuery:    res.SQLQuery,
				Query:       res.Query,
			})
		},
	}
}

func newChartCmd(get func() *app, input func([]string) service.ChatInput) *cobra.Command {
	var overrides model.ChartOverrides

	cmd := &cobra.Command{
		Use:   "chart [message]",
		Short: "Ask a question and print chart-ready records",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := get().svc.Chart(cmd.Context(), input(args), overrides)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&overrides.XKey, "x-key", "", "row key for the x axis")
	cmd.Flags().StringVar(&overrides.SeriesKey, "series-key", "", "row key that splits series")
	cmd.Flags().StringVar(&overrides.ValueKey, "value-key", "", "row key holding the value")
	return cmd
}
