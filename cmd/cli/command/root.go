package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"linkgate/internal"
	"linkgate/internal/connector"
	_ "linkgate/internal/connector/all"
	"linkgate/internal/pkg"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	var verbose bool
	rootCmd := &cobra.Command{
		Use:           "linkgate-cli",
		Short:         "LinkGate CLI for inspecting and exercising connectors",
		Long:          `LinkGate CLI lists the registered connector types and runs one-off reads and writes against a configured connector.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print connector logs to stderr")

	rootCmd.AddCommand(NewDescriptorsCommand())
	rootCmd.AddCommand(NewTriggerCommand(&verbose))
	rootCmd.AddCommand(NewWriteCommand(&verbose))
	return rootCmd
}

// NewDescriptorsCommand 以 yaml 输出全部连接器类型
func NewDescriptorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "descriptors",
		Short: "List registered connector types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(connector.Descriptors())
		},
	}
}

// NewTriggerCommand 连接配置中的连接器，触发一次读取并打印得到的值
func NewTriggerCommand(verbose *bool) *cobra.Command {
	var (
		query string
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger <configDir>",
		Short: "Connect, trigger a single read and print the values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := newPipeline(args[0], *verbose)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p.Observe(func(v any) { fmt.Fprintln(out, formatValue(v)) })
			// 只读取触发的那一次
			p.Source().EnablePolling(false)
			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Stop(ctx)

			if query != "" {
				err = p.Source().TriggerQuery(ctx, connector.StringQuery{Query: query})
			} else {
				err = p.Trigger(ctx)
			}
			if err != nil {
				return err
			}
			if wait > 0 {
				time.Sleep(wait)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "native query passed to the connector")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "keep the connection open to print pushed values")
	return cmd
}

// NewWriteCommand 连接配置中的连接器并写入一次 payload
func NewWriteCommand(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "write <configDir> <payload>",
		Short: "Connect and write a single payload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, p, err := newPipeline(args[0], *verbose)
			if err != nil {
				return err
			}
			p.Source().EnablePolling(false)
			if err := p.Start(ctx); err != nil {
				return err
			}
			defer p.Stop(ctx)
			if err := p.Write(ctx, args[1]); err != nil {
				return fmt.Errorf("写入失败: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
}

func newPipeline(configDir string, verbose bool) (context.Context, *internal.Pipeline, error) {
	config, err := pkg.InitCommon(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	log := zap.NewNop()
	if verbose {
		log, _ = zap.NewDevelopment()
	}
	ctx := pkg.WithErrChan(context.Background(), make(chan error, 10))
	ctx = pkg.WithConfig(ctx, config)
	ctx = pkg.WithLogger(ctx, log)
	p, err := internal.NewPipeline(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ctx, p, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}
