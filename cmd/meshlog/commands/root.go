package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mesh-logger/pkg/config"
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Format     string // text 或 json
}

// ValidFormats 支持的输出格式
var ValidFormats = []string{"text", "json"}

// NewRootCmd 创建根命令
func NewRootCmd() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "meshlog",
		Short: "Mesh radio telemetry logger",
		Long: `meshlog records packets received from a mesh radio into a database.

Every packet is logged with its signal quality and hop count. Node names,
deduplicated positions and text messages are stored alongside.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 文件可选
			_ = godotenv.Load()

			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (default ./meshlog.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewRunCmd(opts))
	cmd.AddCommand(NewNodesCmd(opts))
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute 执行根命令
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig 以当前工作目录为基准加载配置
func loadConfig(opts *RootOptions) (*config.MeshlogConfig, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	cfg, err := config.LoadMeshlogConfig(opts.ConfigPath, wd)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
