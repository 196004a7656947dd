// cmd/replidocctl is the CLI entry-point built with Cobra, for
// document/field operations against a running coordinator.
//
// Usage:
//
//	replidocctl set mydoc title '"hello world"'   --server http://localhost:8080
//	replidocctl delete mydoc title                --server http://localhost:8080
//	replidocctl watch mydoc                       --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/google/uuid"

	"replidoc/delta"
	"replidoc/document"
	"replidoc/internal/replidocclient"
	"replidoc/stamp"
)

var (
	serverAddr string
	token      string
	replicaID  string
	timeout    time.Duration
	stateFile  string
)

func defaultStateFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".replidocctl-clock.json"
	}
	return filepath.Join(dir, ".replidocctl-clock.json")
}

func main() {
	root := &cobra.Command{
		Use:   "replidocctl",
		Short: "CLI client for a replidoc coordinator",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "replidoc coordinator address")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token")
	root.PersistentFlags().StringVar(&replicaID, "replica", "cli", "replica id to stamp local writes with")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")
	root.PersistentFlags().StringVar(&stateFile, "state-file", defaultStateFile(),
		"file tracking this replica's last-issued clock value, so stamps stay monotonic across invocations")

	root.AddCommand(setCmd(), deleteCmd(), watchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client() *replidocclient.Client {
	return replidocclient.New(serverAddr, token, timeout, stateFile)
}

// setCmd sends a single-field Set as a one-change delta.
func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <doc-id> <field> <json-value>",
		Short: "Set one field on a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value json.RawMessage
			if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
				return fmt.Errorf("value must be valid JSON: %w", err)
			}

			c := client()
			s, err := c.NextStamp(stamp.ReplicaID(replicaID))
			if err != nil {
				return err
			}

			d := delta.Delta{
				DocumentID: document.ID(args[0]),
				Changes: []delta.Change{{
					Path:   document.Path(args[1]),
					Value:  value,
					Stamp:  s,
					Origin: stamp.ReplicaID(replicaID),
				}},
			}
			return c.SendDelta(context.Background(), d)
		},
	}
}

// deleteCmd sends a single-field tombstone as a one-change delta.
func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <doc-id> <field>",
		Short: "Tombstone one field on a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			s, err := c.NextStamp(stamp.ReplicaID(replicaID))
			if err != nil {
				return err
			}

			d := delta.Delta{
				DocumentID: document.ID(args[0]),
				Changes: []delta.Change{{
					Path:      document.Path(args[1]),
					Tombstone: true,
					Stamp:     s,
					Origin:    stamp.ReplicaID(replicaID),
				}},
			}
			return c.SendDelta(context.Background(), d)
		},
	}
}

// watchCmd subscribes to a document and prints every delta it
// receives until interrupted.
func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <doc-id>",
		Short: "Stream live changes to a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			id := document.ID(args[0])
			fmt.Printf("watching %s as connection %s, ctrl-c to stop\n", id, uuid.NewString())

			return client().Subscribe(ctx, id, func(d delta.Delta) {
				out, _ := json.Marshal(d)
				fmt.Println(string(out))
			})
		},
	}
}
